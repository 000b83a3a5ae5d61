package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Query Operations ---

const (
	defaultPageSize = int32(10)
	maxPageSize     = int32(100)
)

func parsePageSize(pageSizeStr string) (int32, error) {
	if pageSizeStr == "" {
		return defaultPageSize, nil
	}
	pageSize, err := strconv.ParseInt(pageSizeStr, 10, 32)
	if err != nil || pageSize <= 0 {
		return 0, fmt.Errorf("invalid pageSize '%s': must be a positive integer", pageSizeStr)
	}
	if int32(pageSize) > maxPageSize {
		return maxPageSize, nil
	}
	return int32(pageSize), nil
}

// --- Internal Fetch Helpers ---

func (s *DataAccessSmartContract) getAccessRequestByID(ctx contractapi.TransactionContextInterface, requestID string) (*model.AccessRequest, string, error) {
	requestKey, err := s.createRequestKey(ctx, requestID)
	if err != nil {
		return nil, "", err
	}
	requestBytes, err := ctx.GetStub().GetState(requestKey)
	if err != nil {
		return nil, "", fmt.Errorf("ledger error reading request '%s': %w", requestID, err)
	}
	if requestBytes == nil {
		return nil, "", fmt.Errorf("access request '%s' not found", requestID)
	}
	var request model.AccessRequest
	if err := json.Unmarshal(requestBytes, &request); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal request '%s': %w", requestID, err)
	}
	return &request, requestKey, nil
}

func (s *DataAccessSmartContract) getGrantByID(ctx contractapi.TransactionContextInterface, grantID string) (*model.AccessGrant, string, error) {
	grantKey, err := s.createGrantKey(ctx, grantID)
	if err != nil {
		return nil, "", err
	}
	grantBytes, err := ctx.GetStub().GetState(grantKey)
	if err != nil {
		return nil, "", fmt.Errorf("ledger error reading grant '%s': %w", grantID, err)
	}
	if grantBytes == nil {
		return nil, "", fmt.Errorf("access grant '%s' not found", grantID)
	}
	var grant model.AccessGrant
	if err := json.Unmarshal(grantBytes, &grant); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal grant '%s': %w", grantID, err)
	}
	return &grant, grantKey, nil
}

func (s *DataAccessSmartContract) getIvaWithKey(ctx contractapi.TransactionContextInterface, userID, ivaID string) (*model.Iva, string, error) {
	ivaKey, err := s.createIvaKey(ctx, userID, ivaID)
	if err != nil {
		return nil, "", err
	}
	ivaBytes, err := ctx.GetStub().GetState(ivaKey)
	if err != nil {
		return nil, "", fmt.Errorf("ledger error reading IVA '%s': %w", ivaID, err)
	}
	if ivaBytes == nil {
		return nil, "", fmt.Errorf("IVA '%s' not found for user '%s'", ivaID, userID)
	}
	var iva model.Iva
	if err := json.Unmarshal(ivaBytes, &iva); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal IVA '%s': %w", ivaID, err)
	}
	return &iva, ivaKey, nil
}

func (s *DataAccessSmartContract) getIva(ctx contractapi.TransactionContextInterface, userID, ivaID string) (*model.Iva, error) {
	iva, _, err := s.getIvaWithKey(ctx, userID, ivaID)
	return iva, err
}

// getIvasForUser lists a user's IVAs via a partial composite key on the
// owner attribute.
func (s *DataAccessSmartContract) getIvasForUser(ctx contractapi.TransactionContextInterface, userID string) ([]*model.Iva, error) {
	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(ivaObjectType, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("failed to query IVAs of user '%s': %w", userID, err)
	}
	defer iterator.Close()

	ivas := []*model.Iva{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("getIvasForUser: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var iva model.Iva
		if err := json.Unmarshal(queryResponse.Value, &iva); err != nil {
			logger.Warningf("getIvasForUser: failed to unmarshal IVA for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		ivas = append(ivas, &iva)
	}
	return ivas, nil
}

// sanitizeIvaForOwner blanks the secret-bearing fields before an IVA leaves
// the chaincode.
func sanitizeIvaForOwner(iva *model.Iva) *model.Iva {
	clean := *iva
	clean.CodeHash = ""
	clean.AttemptsRemaining = 0
	return &clean
}

// --- Access Request Queries ---

// GetAccessRequest returns a single request. The requester sees their own;
// stewards and admins see all, including the internal note.
func (s *DataAccessSmartContract) GetAccessRequest(ctx contractapi.TransactionContextInterface, requestID string) (*model.AccessRequest, error) {
	logger.Debugf("Chaincode Call: GetAccessRequest '%s'", requestID)
	reg := NewUserRegistry(ctx)
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return nil, fmt.Errorf("GetAccessRequest: %w", err)
	}
	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("GetAccessRequest: failed to check caller privileges: %w", err)
	}

	request, _, err := s.getAccessRequestByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("GetAccessRequest: %w", err)
	}
	if !privileged {
		if request.UserID != callerFullID {
			return nil, errors.New("unauthorized: only the requester, data stewards, or admins can read this request")
		}
		request.InternalNote = "" // steward-only field
	}
	return request, nil
}

// GetMyAccessRequests returns all requests of the calling user.
func (s *DataAccessSmartContract) GetMyAccessRequests(ctx contractapi.TransactionContextInterface) ([]*model.AccessRequest, error) {
	logger.Debug("Chaincode Call: GetMyAccessRequests")
	reg := NewUserRegistry(ctx)
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return nil, fmt.Errorf("GetMyAccessRequests: %w", err)
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(requestObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetMyAccessRequests: failed to query requests: %w", err)
	}
	defer iterator.Close()

	requests := []*model.AccessRequest{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("GetMyAccessRequests: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var request model.AccessRequest
		if err := json.Unmarshal(queryResponse.Value, &request); err != nil {
			logger.Warningf("GetMyAccessRequests: failed to unmarshal request for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if request.UserID == callerFullID {
			request.InternalNote = ""
			requests = append(requests, &request)
		}
	}
	return requests, nil
}

// ListAccessRequests returns a page of requests narrowed by an
// AccessRequestFilter supplied as JSON. Data stewards and admins only.
func (s *DataAccessSmartContract) ListAccessRequests(ctx contractapi.TransactionContextInterface, filterJSON, pageSizeStr, bookmark string) (*model.PaginatedRequestResponse, error) {
	logger.Debug("Chaincode Call: ListAccessRequests")
	reg := NewUserRegistry(ctx)
	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("ListAccessRequests: failed to check caller privileges: %w", err)
	}
	if !privileged {
		return nil, errors.New("unauthorized: only data stewards or admins can list access requests")
	}

	var filter model.AccessRequestFilter
	if filterJSON != "" {
		if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
			return nil, fmt.Errorf("ListAccessRequests: invalid filterJSON: %w", err)
		}
	}
	pageSize, err := parsePageSize(pageSizeStr)
	if err != nil {
		return nil, fmt.Errorf("ListAccessRequests: %w", err)
	}

	iterator, metadata, err := ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(requestObjectType, []string{}, pageSize, bookmark)
	if err != nil {
		return nil, fmt.Errorf("ListAccessRequests: failed to query requests: %w", err)
	}
	defer iterator.Close()

	requests := []*model.AccessRequest{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("ListAccessRequests: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var request model.AccessRequest
		if err := json.Unmarshal(queryResponse.Value, &request); err != nil {
			logger.Warningf("ListAccessRequests: failed to unmarshal request for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		requests = append(requests, &request)
	}

	return &model.PaginatedRequestResponse{
		Requests:     model.FilterAccessRequests(requests, filter),
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: metadata.GetFetchedRecordsCount(),
	}, nil
}

// --- Access Grant Queries ---

// GetMyAccessGrants returns the calling user's grants with their status
// computed at the transaction timestamp.
func (s *DataAccessSmartContract) GetMyAccessGrants(ctx contractapi.TransactionContextInterface) ([]*model.GrantView, error) {
	logger.Debug("Chaincode Call: GetMyAccessGrants")
	reg := NewUserRegistry(ctx)
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return nil, fmt.Errorf("GetMyAccessGrants: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetMyAccessGrants: %w", err)
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(grantObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("GetMyAccessGrants: failed to query grants: %w", err)
	}
	defer iterator.Close()

	views := []*model.GrantView{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("GetMyAccessGrants: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var grant model.AccessGrant
		if err := json.Unmarshal(queryResponse.Value, &grant); err != nil {
			logger.Warningf("GetMyAccessGrants: failed to unmarshal grant for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if grant.UserID == callerFullID {
			views = append(views, model.NewGrantView(&grant, now))
		}
	}
	return views, nil
}

// ListAccessGrants returns a page of grants narrowed by an AccessGrantFilter
// supplied as JSON, each with its computed status. Data stewards and admins
// only.
func (s *DataAccessSmartContract) ListAccessGrants(ctx contractapi.TransactionContextInterface, filterJSON, pageSizeStr, bookmark string) (*model.PaginatedGrantResponse, error) {
	logger.Debug("Chaincode Call: ListAccessGrants")
	reg := NewUserRegistry(ctx)
	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("ListAccessGrants: failed to check caller privileges: %w", err)
	}
	if !privileged {
		return nil, errors.New("unauthorized: only data stewards or admins can list access grants")
	}

	var filter model.AccessGrantFilter
	if filterJSON != "" {
		if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
			return nil, fmt.Errorf("ListAccessGrants: invalid filterJSON: %w", err)
		}
	}
	pageSize, err := parsePageSize(pageSizeStr)
	if err != nil {
		return nil, fmt.Errorf("ListAccessGrants: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAccessGrants: %w", err)
	}

	iterator, metadata, err := ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(grantObjectType, []string{}, pageSize, bookmark)
	if err != nil {
		return nil, fmt.Errorf("ListAccessGrants: failed to query grants: %w", err)
	}
	defer iterator.Close()

	grants := []*model.AccessGrant{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("ListAccessGrants: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var grant model.AccessGrant
		if err := json.Unmarshal(queryResponse.Value, &grant); err != nil {
			logger.Warningf("ListAccessGrants: failed to unmarshal grant for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		grants = append(grants, &grant)
	}

	views := []*model.GrantView{}
	for _, grant := range model.FilterAccessGrants(grants, filter, now) {
		views = append(views, model.NewGrantView(grant, now))
	}
	return &model.PaginatedGrantResponse{
		Grants:       views,
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: metadata.GetFetchedRecordsCount(),
	}, nil
}

// --- IVA Queries ---

// GetMyIvas returns the calling user's IVAs with secret-bearing fields
// blanked.
func (s *DataAccessSmartContract) GetMyIvas(ctx contractapi.TransactionContextInterface) ([]*model.Iva, error) {
	logger.Debug("Chaincode Call: GetMyIvas")
	reg := NewUserRegistry(ctx)
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return nil, fmt.Errorf("GetMyIvas: %w", err)
	}

	ivas, err := s.getIvasForUser(ctx, callerFullID)
	if err != nil {
		return nil, fmt.Errorf("GetMyIvas: %w", err)
	}
	sanitized := []*model.Iva{}
	for _, iva := range ivas {
		sanitized = append(sanitized, sanitizeIvaForOwner(iva))
	}
	return sanitized, nil
}

// ListIvas returns all IVAs narrowed by an IvaFilter supplied as JSON. Data
// stewards and admins only.
func (s *DataAccessSmartContract) ListIvas(ctx contractapi.TransactionContextInterface, filterJSON string) ([]*model.Iva, error) {
	logger.Debug("Chaincode Call: ListIvas")
	reg := NewUserRegistry(ctx)
	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("ListIvas: failed to check caller privileges: %w", err)
	}
	if !privileged {
		return nil, errors.New("unauthorized: only data stewards or admins can list IVAs")
	}

	var filter model.IvaFilter
	if filterJSON != "" {
		if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
			return nil, fmt.Errorf("ListIvas: invalid filterJSON: %w", err)
		}
	}

	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(ivaObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("ListIvas: failed to query IVAs: %w", err)
	}
	defer iterator.Close()

	ivas := []*model.Iva{}
	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("ListIvas: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var iva model.Iva
		if err := json.Unmarshal(queryResponse.Value, &iva); err != nil {
			logger.Warningf("ListIvas: failed to unmarshal IVA for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		ivas = append(ivas, sanitizeIvaForOwner(&iva))
	}
	return model.FilterIvas(ivas, filter), nil
}

// --- Policy and Window Queries ---

// GetDurationPolicy returns the effective duration policy.
func (s *DataAccessSmartContract) GetDurationPolicy(ctx contractapi.TransactionContextInterface) (*model.DurationPolicy, error) {
	logger.Debug("Chaincode Call: GetDurationPolicy")
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetDurationPolicy: %w", err)
	}
	return &policy, nil
}

// GetFromRange returns the valid window for the access-start date of a new
// request, computed against the transaction timestamp.
func (s *DataAccessSmartContract) GetFromRange(ctx contractapi.TransactionContextInterface) (*model.DateRange, error) {
	logger.Debug("Chaincode Call: GetFromRange")
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetFromRange: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetFromRange: %w", err)
	}
	r := model.FromRange(policy, now)
	return &r, nil
}

// GetUntilRangeForFrom returns the valid window for the access-end date
// given a chosen start date.
func (s *DataAccessSmartContract) GetUntilRangeForFrom(ctx contractapi.TransactionContextInterface, fromStr string) (*model.DateRange, error) {
	logger.Debug("Chaincode Call: GetUntilRangeForFrom")
	from, err := parseDateString(fromStr, "from", true)
	if err != nil {
		return nil, fmt.Errorf("GetUntilRangeForFrom: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetUntilRangeForFrom: %w", err)
	}
	r := model.UntilRangeForFrom(policy, from)
	return &r, nil
}

// GetFromRangeForUntil returns the valid window for the access-start date
// given a chosen end date, computed against the transaction timestamp.
func (s *DataAccessSmartContract) GetFromRangeForUntil(ctx contractapi.TransactionContextInterface, untilStr string) (*model.DateRange, error) {
	logger.Debug("Chaincode Call: GetFromRangeForUntil")
	until, err := parseDateString(untilStr, "until", true)
	if err != nil {
		return nil, fmt.Errorf("GetFromRangeForUntil: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetFromRangeForUntil: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetFromRangeForUntil: %w", err)
	}
	r := model.FromRangeForUntil(policy, now, until)
	return &r, nil
}

// GetGrantExtensionRange returns the valid window for the new end date when
// extending an existing grant. Data stewards and admins only.
func (s *DataAccessSmartContract) GetGrantExtensionRange(ctx contractapi.TransactionContextInterface, grantID string) (*model.DateRange, error) {
	logger.Debugf("Chaincode Call: GetGrantExtensionRange for '%s'", grantID)
	reg := NewUserRegistry(ctx)
	privileged, err := reg.IsStewardOrAdmin()
	if err != nil {
		return nil, fmt.Errorf("GetGrantExtensionRange: failed to check caller privileges: %w", err)
	}
	if !privileged {
		return nil, errors.New("unauthorized: only data stewards or admins can query extension ranges")
	}

	grant, _, err := s.getGrantByID(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("GetGrantExtensionRange: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetGrantExtensionRange: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetGrantExtensionRange: %w", err)
	}
	r := model.ExtensionUntilRange(policy, now, grant)
	return &r, nil
}

// --- Work Package Queries ---

// GetWorkPackage returns a work package record without the token (only the
// hash is stored). The owner sees their own; stewards and admins see all.
func (s *DataAccessSmartContract) GetWorkPackage(ctx contractapi.TransactionContextInterface, workPackageID string) (*model.WorkPackage, error) {
	logger.Debugf("Chaincode Call: GetWorkPackage '%s'", workPackageID)
	reg := NewUserRegistry(ctx)
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return nil, fmt.Errorf("GetWorkPackage: %w", err)
	}

	wpKey, err := s.createWorkPackageKey(ctx, workPackageID)
	if err != nil {
		return nil, fmt.Errorf("GetWorkPackage: %w", err)
	}
	wpBytes, err := ctx.GetStub().GetState(wpKey)
	if err != nil {
		return nil, fmt.Errorf("GetWorkPackage: ledger error reading work package '%s': %w", workPackageID, err)
	}
	if wpBytes == nil {
		return nil, fmt.Errorf("GetWorkPackage: work package '%s' not found", workPackageID)
	}
	var workPackage model.WorkPackage
	if err := json.Unmarshal(wpBytes, &workPackage); err != nil {
		return nil, fmt.Errorf("GetWorkPackage: failed to unmarshal work package '%s': %w", workPackageID, err)
	}
	if workPackage.FileIDs == nil {
		workPackage.FileIDs = []string{}
	}

	if workPackage.UserID != callerFullID {
		privileged, errPriv := reg.IsStewardOrAdmin()
		if errPriv != nil {
			return nil, fmt.Errorf("GetWorkPackage: failed to check caller privileges: %w", errPriv)
		}
		if !privileged {
			return nil, errors.New("unauthorized: only the owner, data stewards, or admins can read this work package")
		}
	}
	workPackage.TokenHash = ""
	return &workPackage, nil
}
