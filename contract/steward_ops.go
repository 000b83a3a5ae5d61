package contract

import (
	"encoding/json"
	"errors"
	"fmt"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Data Steward Operations ---

// BootstrapLedger writes the default duration policy. Intended for a fresh
// channel; refuses to overwrite an existing policy.
func (s *DataAccessSmartContract) BootstrapLedger(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: BootstrapLedger")

	policyKey, err := s.createPolicyKey(ctx)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: %w", err)
	}
	existing, err := ctx.GetStub().GetState(policyKey)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to check for existing policy: %w", err)
	}
	if existing != nil {
		return errors.New("BootstrapLedger: a duration policy is already stored")
	}

	policy := model.DefaultDurationPolicy()
	policyBytes, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("BootstrapLedger: failed to marshal default policy: %w", err)
	}
	if err := ctx.GetStub().PutState(policyKey, policyBytes); err != nil {
		return fmt.Errorf("BootstrapLedger: failed to save default policy: %w", err)
	}
	logger.Info("BootstrapLedger: default duration policy stored")
	return nil
}

// ApproveAccessRequest allows a pending request and creates the access
// grant. The grant is bound to a verified IVA: the explicit ivaID argument
// wins, then the IVA referenced on the request, then the requester's best
// IVA.
func (s *DataAccessSmartContract) ApproveAccessRequest(ctx contractapi.TransactionContextInterface, requestID, ivaID string) error {
	logger.Infof("Chaincode Call: ApproveAccessRequest for '%s'", requestID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("ApproveAccessRequest: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ApproveAccessRequest: %w", err)
	}

	request, requestKey, err := s.getAccessRequestByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("ApproveAccessRequest: %w", err)
	}
	if !request.IsPending() {
		return fmt.Errorf("ApproveAccessRequest: request '%s' is already decided (%s)", requestID, request.Status)
	}

	chosenIvaID := ivaID
	if chosenIvaID == "" {
		chosenIvaID = request.IvaID
	}
	var iva *model.Iva
	if chosenIvaID != "" {
		iva, err = s.getIva(ctx, request.UserID, chosenIvaID)
		if err != nil {
			return fmt.Errorf("ApproveAccessRequest: IVA '%s': %w", chosenIvaID, err)
		}
	} else {
		ivas, errList := s.getIvasForUser(ctx, request.UserID)
		if errList != nil {
			return fmt.Errorf("ApproveAccessRequest: %w", errList)
		}
		iva = model.BestIva(ivas)
		if iva == nil {
			return fmt.Errorf("ApproveAccessRequest: requester '%s' has no IVA to bind the grant to", request.UserID)
		}
		chosenIvaID = iva.ID
	}
	if iva.State != model.IvaStateVerified {
		return fmt.Errorf("ApproveAccessRequest: IVA '%s' is not verified (state %s)", chosenIvaID, iva.State)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ApproveAccessRequest: %w", err)
	}

	grantID := "GRANT-" + ctx.GetStub().GetTxID()
	grantKey, err := s.createGrantKey(ctx, grantID)
	if err != nil {
		return fmt.Errorf("ApproveAccessRequest: %w", err)
	}

	grant := model.AccessGrant{
		ObjectType:   grantObjectType,
		ID:           grantID,
		UserID:       request.UserID,
		UserName:     request.UserName,
		UserEmail:    request.UserEmail,
		DatasetID:    request.DatasetID,
		DatasetTitle: request.DatasetTitle,
		DacAlias:     request.DacAlias,
		DacEmail:     request.DacEmail,
		IvaID:        chosenIvaID,
		RequestID:    request.ID,
		ValidFrom:    request.AccessStarts,
		ValidUntil:   request.AccessEnds,
		CreatedAt:    now,
		CreatedBy:    actor.fullID,
	}
	grantBytes, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("ApproveAccessRequest: failed to marshal grant '%s': %w", grantID, err)
	}
	if err := ctx.GetStub().PutState(grantKey, grantBytes); err != nil {
		return fmt.Errorf("ApproveAccessRequest: failed to save grant '%s': %w", grantID, err)
	}

	request.Status = model.RequestStatusAllowed
	request.StatusChangedAt = now
	request.ChangedBy = actor.fullID
	request.IvaID = chosenIvaID
	request.GrantID = grantID

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("ApproveAccessRequest: failed to marshal request '%s': %w", requestID, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("ApproveAccessRequest: failed to save request '%s': %w", requestID, err)
	}

	s.emitAccessEvent(ctx, "AccessRequestAllowed", actor, map[string]interface{}{
		"requestId": requestID,
		"grantId":   grantID,
		"datasetId": request.DatasetID,
		"userId":    request.UserID,
	})
	logger.Infof("Access request '%s' approved; grant '%s' created for user '%s'", requestID, grantID, request.UserID)
	return nil
}

// DenyAccessRequest rejects a pending request. The note is shown to the
// requester.
func (s *DataAccessSmartContract) DenyAccessRequest(ctx contractapi.TransactionContextInterface, requestID, noteToRequester string) error {
	logger.Infof("Chaincode Call: DenyAccessRequest for '%s'", requestID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("DenyAccessRequest: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("DenyAccessRequest: %w", err)
	}
	if err := s.validateOptionalString(noteToRequester, "noteToRequester", maxNoteLength); err != nil {
		return fmt.Errorf("DenyAccessRequest: %w", err)
	}

	request, requestKey, err := s.getAccessRequestByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("DenyAccessRequest: %w", err)
	}
	if !request.IsPending() {
		return fmt.Errorf("DenyAccessRequest: request '%s' is already decided (%s)", requestID, request.Status)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("DenyAccessRequest: %w", err)
	}
	request.Status = model.RequestStatusDenied
	request.StatusChangedAt = now
	request.ChangedBy = actor.fullID
	if noteToRequester != "" {
		request.NoteToRequester = noteToRequester
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("DenyAccessRequest: failed to marshal request '%s': %w", requestID, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("DenyAccessRequest: failed to save request '%s': %w", requestID, err)
	}

	s.emitAccessEvent(ctx, "AccessRequestDenied", actor, map[string]interface{}{
		"requestId": requestID,
		"datasetId": request.DatasetID,
	})
	return nil
}

// RevokeAccessGrant deletes a grant from the ledger. The originating request
// keeps its ALLOWED status as a historical record.
func (s *DataAccessSmartContract) RevokeAccessGrant(ctx contractapi.TransactionContextInterface, grantID, reason string) error {
	logger.Infof("Chaincode Call: RevokeAccessGrant for '%s'", grantID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("RevokeAccessGrant: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RevokeAccessGrant: %w", err)
	}
	if err := s.validateOptionalString(reason, "reason", maxNoteLength); err != nil {
		return fmt.Errorf("RevokeAccessGrant: %w", err)
	}

	grant, grantKey, err := s.getGrantByID(ctx, grantID)
	if err != nil {
		return fmt.Errorf("RevokeAccessGrant: %w", err)
	}

	if err := ctx.GetStub().DelState(grantKey); err != nil {
		return fmt.Errorf("RevokeAccessGrant: failed to delete grant '%s': %w", grantID, err)
	}

	s.emitAccessEvent(ctx, "AccessGrantRevoked", actor, map[string]interface{}{
		"grantId":   grantID,
		"datasetId": grant.DatasetID,
		"userId":    grant.UserID,
		"reason":    reason,
	})
	logger.Infof("Access grant '%s' revoked by '%s'", grantID, actor.fullID)
	return nil
}

// ExtendAccessGrant moves a grant's end date forward within the extension
// window allowed by the duration policy.
func (s *DataAccessSmartContract) ExtendAccessGrant(ctx contractapi.TransactionContextInterface, grantID, newUntilStr string) error {
	logger.Infof("Chaincode Call: ExtendAccessGrant for '%s'", grantID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("ExtendAccessGrant: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ExtendAccessGrant: %w", err)
	}

	newUntil, err := parseDateString(newUntilStr, "newUntil", true)
	if err != nil {
		return fmt.Errorf("ExtendAccessGrant: %w", err)
	}

	grant, grantKey, err := s.getGrantByID(ctx, grantID)
	if err != nil {
		return fmt.Errorf("ExtendAccessGrant: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ExtendAccessGrant: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return fmt.Errorf("ExtendAccessGrant: %w", err)
	}

	newUntil = model.EndOfDay(newUntil)
	extRange := model.ExtensionUntilRange(policy, now, grant)
	if extRange.Invalid {
		return fmt.Errorf("ExtendAccessGrant: grant '%s' can no longer be extended under the duration policy", grantID)
	}
	if !extRange.Contains(newUntil) {
		return fmt.Errorf("ExtendAccessGrant: new end date %s is outside the allowed window [%s, %s]",
			newUntil.Format("2006-01-02"), extRange.Min.Format("2006-01-02"), extRange.Max.Format("2006-01-02"))
	}

	oldUntil := grant.ValidUntil
	grant.ValidUntil = newUntil

	grantBytes, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("ExtendAccessGrant: failed to marshal grant '%s': %w", grantID, err)
	}
	if err := ctx.GetStub().PutState(grantKey, grantBytes); err != nil {
		return fmt.Errorf("ExtendAccessGrant: failed to save grant '%s': %w", grantID, err)
	}

	s.emitAccessEvent(ctx, "AccessGrantExtended", actor, map[string]interface{}{
		"grantId":  grantID,
		"oldUntil": oldUntil,
		"newUntil": newUntil,
	})
	return nil
}

// SetDurationPolicy replaces the stored duration policy. Admins only.
func (s *DataAccessSmartContract) SetDurationPolicy(ctx contractapi.TransactionContextInterface, policyJSON string) error {
	logger.Info("Chaincode Call: SetDurationPolicy")
	reg := NewUserRegistry(ctx)
	if err := s.requireAdmin(reg); err != nil {
		return fmt.Errorf("SetDurationPolicy: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("SetDurationPolicy: %w", err)
	}

	var policy model.DurationPolicy
	if err := json.Unmarshal([]byte(policyJSON), &policy); err != nil {
		return fmt.Errorf("SetDurationPolicy: invalid policyJSON: %w", err)
	}
	policy.ObjectType = policyObjectType
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("SetDurationPolicy: %w", err)
	}

	policyKey, err := s.createPolicyKey(ctx)
	if err != nil {
		return fmt.Errorf("SetDurationPolicy: %w", err)
	}
	policyBytes, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("SetDurationPolicy: failed to marshal policy: %w", err)
	}
	if err := ctx.GetStub().PutState(policyKey, policyBytes); err != nil {
		return fmt.Errorf("SetDurationPolicy: failed to save policy: %w", err)
	}

	s.emitAccessEvent(ctx, "DurationPolicyUpdated", actor, map[string]interface{}{
		"accessGrantMinDays": policy.MinDays,
		"accessGrantMaxDays": policy.MaxDays,
	})
	return nil
}
