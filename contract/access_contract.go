package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("datashare.accesscontract")

// Object types used for composite keys and as 'objectType' discriminators
// for CouchDB queries.
const (
	requestObjectType     = "AccessRequest"
	grantObjectType       = "AccessGrant"
	ivaObjectType         = "Iva"
	workPackageObjectType = "WorkPackage"
	policyObjectType      = "DurationPolicy"
)

// Constants for input validation and limits
const (
	maxStringInputLength = 256
	maxRequestTextLength = 2048
	maxNoteLength        = 1024
	maxFileIDs           = 500 // limit for explicit file-id subsets in work packages
	maxCodeAttempts      = 10  // wrong verification codes before an IVA is reset
	verificationCodeLen  = 6
)

// DataAccessSmartContract manages the access-request, access-grant, IVA and
// work-package lifecycle for datasets of the data-sharing platform.
// @contract:DataAccessSmartContract
type DataAccessSmartContract struct {
	contractapi.Contract
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	fullID string
	name   string
	email  string
	mspID  string
}

// Instantiate is called during chaincode instantiation.
func (s *DataAccessSmartContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("DataAccessSmartContract Instantiated/Upgraded")
}

// --- User Administration Wrappers (Delegating to UserRegistry) ---

func (s *DataAccessSmartContract) RegisterUser(ctx contractapi.TransactionContextInterface, targetFullID, name, email, title string) error {
	logger.Infof("Chaincode Call: RegisterUser for '%s' (%s)", targetFullID, email)
	return NewUserRegistry(ctx).RegisterUser(targetFullID, name, email, title)
}

func (s *DataAccessSmartContract) AssignRoleToUser(ctx contractapi.TransactionContextInterface, targetFullID, role string) error {
	logger.Infof("Chaincode Call: AssignRole '%s' to '%s'", role, targetFullID)
	return NewUserRegistry(ctx).AssignRole(targetFullID, role)
}

func (s *DataAccessSmartContract) RemoveRoleFromUser(ctx contractapi.TransactionContextInterface, targetFullID, role string) error {
	logger.Infof("Chaincode Call: RemoveRole '%s' from '%s'", role, targetFullID)
	return NewUserRegistry(ctx).RemoveRole(targetFullID, role)
}

func (s *DataAccessSmartContract) MakeUserAdmin(ctx contractapi.TransactionContextInterface, targetFullID string) error {
	logger.Infof("Chaincode Call: MakeAdmin for '%s'", targetFullID)
	return NewUserRegistry(ctx).MakeAdmin(targetFullID)
}

func (s *DataAccessSmartContract) RemoveUserAdmin(ctx contractapi.TransactionContextInterface, targetFullID string) error {
	logger.Infof("Chaincode Call: RemoveAdmin for '%s'", targetFullID)
	return NewUserRegistry(ctx).RemoveAdmin(targetFullID)
}

// GetUserDetails returns a registered user's record. Only admins, data
// stewards, or the user themselves may read it.
func (s *DataAccessSmartContract) GetUserDetails(ctx contractapi.TransactionContextInterface, targetFullID string) (*model.RegisteredUser, error) {
	logger.Debugf("Chaincode Call: GetUserDetails for '%s'", targetFullID)
	reg := NewUserRegistry(ctx)

	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("GetUserDetails: failed to check caller privileges: %w", err)
	}
	if !privileged {
		callerFullID, err := reg.GetCurrentUserFullID()
		if err != nil {
			return nil, fmt.Errorf("GetUserDetails: failed to get caller's FullID: %w", err)
		}
		if callerFullID != targetFullID {
			return nil, errors.New("unauthorized: only admins, data stewards, or the user themselves can get these details")
		}
	}
	return reg.GetUser(targetFullID)
}

// ListUsers returns registered users narrowed by a RegisteredUserFilter
// supplied as JSON. Admins and data stewards only.
func (s *DataAccessSmartContract) ListUsers(ctx contractapi.TransactionContextInterface, filterJSON string) ([]*model.RegisteredUser, error) {
	logger.Debug("Chaincode Call: ListUsers")
	reg := NewUserRegistry(ctx)

	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("ListUsers: failed to check caller privileges: %w", err)
	}
	if !privileged {
		return nil, errors.New("unauthorized: only admins or data stewards can list users")
	}

	var filter model.RegisteredUserFilter
	if filterJSON != "" {
		if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
			return nil, fmt.Errorf("ListUsers: invalid filterJSON: %w", err)
		}
	}

	users, err := reg.GetAllRegisteredUsers()
	if err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}
	return model.FilterRegisteredUsers(users, filter), nil
}
