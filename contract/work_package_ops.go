package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Work Package Operations ---

// CreateWorkPackage mints a download or upload token scoped to a dataset the
// caller holds an active grant for. The grant's IVA must still be verified.
// The plaintext token is returned exactly once; only its hash is stored.
func (s *DataAccessSmartContract) CreateWorkPackage(ctx contractapi.TransactionContextInterface,
	workPackageID, datasetID, fileIDsJSON, typeStr, userPublicKey string) (*model.WorkPackageResponse, error) {

	logger.Infof("Chaincode Call: CreateWorkPackage '%s' for dataset '%s'", workPackageID, datasetID)
	actor, err := s.requireRegisteredActor(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}

	if err := s.validateRequiredString(workPackageID, "workPackageID", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}
	if err := s.validateRequiredString(datasetID, "datasetID", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}
	if err := s.validateRequiredString(userPublicKey, "userPublicKey", maxRequestTextLength); err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}

	wpType := model.WorkPackageType(typeStr)
	if wpType != model.WorkPackageDownload && wpType != model.WorkPackageUpload {
		return nil, fmt.Errorf("CreateWorkPackage: invalid work package type '%s'", typeStr)
	}

	fileIDs := []string{}
	if strings.TrimSpace(fileIDsJSON) != "" {
		if err := json.Unmarshal([]byte(fileIDsJSON), &fileIDs); err != nil {
			return nil, fmt.Errorf("CreateWorkPackage: invalid fileIDsJSON (expected a JSON string array): %w", err)
		}
		if len(fileIDs) > maxFileIDs {
			return nil, fmt.Errorf("CreateWorkPackage: too many file ids (%d > %d)", len(fileIDs), maxFileIDs)
		}
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}

	grant, err := s.findActiveGrant(ctx, actor.fullID, datasetID, now)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}
	if grant == nil {
		return nil, fmt.Errorf("CreateWorkPackage: no active access grant for user '%s' on dataset '%s'", actor.fullID, datasetID)
	}

	// Access stands and falls with the grant's verification address.
	iva, err := s.getIva(ctx, grant.UserID, grant.IvaID)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: grant IVA '%s': %w", grant.IvaID, err)
	}
	if iva.State != model.IvaStateVerified {
		return nil, fmt.Errorf("CreateWorkPackage: IVA '%s' backing the grant is no longer verified (state %s)", grant.IvaID, iva.State)
	}

	wpKey, err := s.createWorkPackageKey(ctx, workPackageID)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}
	existing, err := ctx.GetStub().GetState(wpKey)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: failed to check for existing work package '%s': %w", workPackageID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("CreateWorkPackage: work package '%s' already exists", workPackageID)
	}

	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}

	token, err := newDownloadToken()
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: %w", err)
	}

	// Token validity never outlives the grant itself.
	expiresAt := model.AddDays(now, policy.TokenValidDays)
	if expiresAt.After(grant.ValidUntil) {
		expiresAt = grant.ValidUntil
	}

	workPackage := model.WorkPackage{
		ObjectType:    workPackageObjectType,
		ID:            workPackageID,
		UserID:        actor.fullID,
		GrantID:       grant.ID,
		DatasetID:     grant.DatasetID,
		FileIDs:       fileIDs,
		Type:          wpType,
		UserPublicKey: userPublicKey,
		TokenHash:     hashSecret(token),
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	wpBytes, err := json.Marshal(workPackage)
	if err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: failed to marshal work package '%s': %w", workPackageID, err)
	}
	if err := ctx.GetStub().PutState(wpKey, wpBytes); err != nil {
		return nil, fmt.Errorf("CreateWorkPackage: failed to save work package '%s': %w", workPackageID, err)
	}

	s.emitAccessEvent(ctx, "WorkPackageCreated", actor, map[string]interface{}{
		"workPackageId": workPackageID,
		"grantId":       grant.ID,
		"datasetId":     grant.DatasetID,
		"type":          string(wpType),
		"expiresAt":     expiresAt,
	})
	logger.Infof("Work package '%s' created for grant '%s'", workPackageID, grant.ID)

	return &model.WorkPackageResponse{
		ID:        workPackageID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// findActiveGrant scans for a currently active grant of the user on the
// dataset.
func (s *DataAccessSmartContract) findActiveGrant(ctx contractapi.TransactionContextInterface, userID, datasetID string, now time.Time) (*model.AccessGrant, error) {
	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(grantObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to query access grants: %w", err)
	}
	defer iterator.Close()

	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("findActiveGrant: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var grant model.AccessGrant
		if err := json.Unmarshal(queryResponse.Value, &grant); err != nil {
			logger.Warningf("findActiveGrant: failed to unmarshal grant for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if grant.UserID == userID && strings.EqualFold(grant.DatasetID, datasetID) && grant.IsActive(now) {
			return &grant, nil
		}
	}
	return nil, nil
}
