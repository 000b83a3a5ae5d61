package contract

import (
	"encoding/json"
	"fmt"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- IVA Lifecycle Operations ---
//
// Verification walks a strict forward chain: UNVERIFIED -> CODE_REQUESTED ->
// CODE_CREATED -> CODE_TRANSMITTED -> VERIFIED, with a reset edge back to
// UNVERIFIED from anywhere. Phone IVAs skip the manual steps: the SMS relay,
// which runs under steward credentials, generates the code and counts it as
// transmitted in one transaction. The plaintext code is only ever handed to
// steward-gated callers; the owner must receive it over the contact channel
// itself.

// CreateIva registers a new contact address for the calling user. New IVAs
// always start unverified.
func (s *DataAccessSmartContract) CreateIva(ctx contractapi.TransactionContextInterface, ivaID, typeStr, value string) error {
	logger.Infof("Chaincode Call: CreateIva '%s' (%s)", ivaID, typeStr)
	actor, err := s.requireRegisteredActor(ctx)
	if err != nil {
		return fmt.Errorf("CreateIva: %w", err)
	}

	if err := s.validateRequiredString(ivaID, "ivaID", maxStringInputLength); err != nil {
		return fmt.Errorf("CreateIva: %w", err)
	}
	if err := s.validateRequiredString(value, "value", maxStringInputLength); err != nil {
		return fmt.Errorf("CreateIva: %w", err)
	}
	ivaType := model.IvaType(typeStr)
	if !model.ValidIvaType(ivaType) {
		return fmt.Errorf("CreateIva: invalid IVA type '%s'", typeStr)
	}

	ivaKey, err := s.createIvaKey(ctx, actor.fullID, ivaID)
	if err != nil {
		return fmt.Errorf("CreateIva: %w", err)
	}
	existing, err := ctx.GetStub().GetState(ivaKey)
	if err != nil {
		return fmt.Errorf("CreateIva: failed to check for existing IVA '%s': %w", ivaID, err)
	}
	if existing != nil {
		return fmt.Errorf("CreateIva: IVA '%s' already exists for this user", ivaID)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CreateIva: %w", err)
	}

	iva := model.Iva{
		ObjectType: ivaObjectType,
		ID:         ivaID,
		UserID:     actor.fullID,
		Type:       ivaType,
		Value:      value,
		State:      model.IvaStateUnverified,
		ChangedAt:  now,
	}
	ivaBytes, err := json.Marshal(iva)
	if err != nil {
		return fmt.Errorf("CreateIva: failed to marshal IVA '%s': %w", ivaID, err)
	}
	if err := ctx.GetStub().PutState(ivaKey, ivaBytes); err != nil {
		return fmt.Errorf("CreateIva: failed to save IVA '%s': %w", ivaID, err)
	}

	s.emitAccessEvent(ctx, "IvaCreated", actor, map[string]interface{}{
		"ivaId": ivaID,
		"type":  string(ivaType),
	})
	return nil
}

// DeleteIva removes an IVA. The owner may delete their own; data stewards
// may delete anyone's.
func (s *DataAccessSmartContract) DeleteIva(ctx contractapi.TransactionContextInterface, userID, ivaID string) error {
	logger.Infof("Chaincode Call: DeleteIva '%s' of user '%s'", ivaID, userID)
	reg := NewUserRegistry(ctx)
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("DeleteIva: %w", err)
	}

	if actor.fullID != userID {
		privileged, errPriv := reg.IsStewardOrAdmin()
		if errPriv != nil {
			return fmt.Errorf("DeleteIva: failed to check caller privileges: %w", errPriv)
		}
		if !privileged {
			return fmt.Errorf("DeleteIva: caller '%s' may only delete their own IVAs", actor.fullID)
		}
	}

	ivaKey, err := s.createIvaKey(ctx, userID, ivaID)
	if err != nil {
		return fmt.Errorf("DeleteIva: %w", err)
	}
	existing, err := ctx.GetStub().GetState(ivaKey)
	if err != nil {
		return fmt.Errorf("DeleteIva: failed to read IVA '%s': %w", ivaID, err)
	}
	if existing == nil {
		return fmt.Errorf("DeleteIva: IVA '%s' not found for user '%s'", ivaID, userID)
	}
	if err := ctx.GetStub().DelState(ivaKey); err != nil {
		return fmt.Errorf("DeleteIva: failed to delete IVA '%s': %w", ivaID, err)
	}

	s.emitAccessEvent(ctx, "IvaDeleted", actor, map[string]interface{}{
		"ivaId":  ivaID,
		"userId": userID,
	})
	return nil
}

// RequestIvaVerification starts verification of one of the caller's IVAs.
// The IVA moves to CODE_REQUESTED and waits for a data steward to create and
// transmit the code; phone IVAs are instead picked up by the SMS relay via
// SendIvaVerificationSms. The code is never returned to the owner.
func (s *DataAccessSmartContract) RequestIvaVerification(ctx contractapi.TransactionContextInterface, ivaID string) error {
	logger.Infof("Chaincode Call: RequestIvaVerification for '%s'", ivaID)
	actor, err := s.requireRegisteredActor(ctx)
	if err != nil {
		return fmt.Errorf("RequestIvaVerification: %w", err)
	}

	iva, ivaKey, err := s.getIvaWithKey(ctx, actor.fullID, ivaID)
	if err != nil {
		return fmt.Errorf("RequestIvaVerification: %w", err)
	}
	if !model.CanTransition(iva.State, model.IvaStateCodeRequested) {
		return fmt.Errorf("RequestIvaVerification: IVA '%s' cannot move from %s to %s", ivaID, iva.State, model.IvaStateCodeRequested)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RequestIvaVerification: %w", err)
	}
	iva.State = model.IvaStateCodeRequested
	iva.ChangedAt = now

	if err := s.saveIva(ctx, ivaKey, iva); err != nil {
		return fmt.Errorf("RequestIvaVerification: %w", err)
	}

	s.emitAccessEvent(ctx, "IvaVerificationRequested", actor, map[string]interface{}{
		"ivaId": ivaID,
		"state": string(iva.State),
	})
	return nil
}

// SendIvaVerificationSms generates the code for a phone IVA and counts it as
// transmitted in one step. Data stewards only: the SMS relay runs under
// steward credentials, so the plaintext code goes to the relay for delivery,
// never to the IVA's owner.
func (s *DataAccessSmartContract) SendIvaVerificationSms(ctx contractapi.TransactionContextInterface, userID, ivaID string) (string, error) {
	logger.Infof("Chaincode Call: SendIvaVerificationSms for '%s' of user '%s'", ivaID, userID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return "", fmt.Errorf("SendIvaVerificationSms: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("SendIvaVerificationSms: %w", err)
	}

	iva, ivaKey, err := s.getIvaWithKey(ctx, userID, ivaID)
	if err != nil {
		return "", fmt.Errorf("SendIvaVerificationSms: %w", err)
	}
	if iva.Type != model.IvaTypePhone {
		return "", fmt.Errorf("SendIvaVerificationSms: IVA '%s' is not a phone number (%s)", ivaID, iva.Type)
	}
	if !model.CanTransition(iva.State, model.IvaStateCodeTransmitted) {
		return "", fmt.Errorf("SendIvaVerificationSms: IVA '%s' cannot move from %s to %s", ivaID, iva.State, model.IvaStateCodeTransmitted)
	}

	plainCode, err := newVerificationCode()
	if err != nil {
		return "", fmt.Errorf("SendIvaVerificationSms: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("SendIvaVerificationSms: %w", err)
	}

	iva.State = model.IvaStateCodeTransmitted
	iva.CodeHash = hashSecret(plainCode)
	iva.AttemptsRemaining = maxCodeAttempts
	iva.ChangedAt = now

	if err := s.saveIva(ctx, ivaKey, iva); err != nil {
		return "", fmt.Errorf("SendIvaVerificationSms: %w", err)
	}

	s.emitAccessEvent(ctx, "IvaCodeTransmitted", actor, map[string]interface{}{
		"ivaId":  ivaID,
		"userId": userID,
	})
	return plainCode, nil
}

// CreateIvaVerificationCode generates the verification code for a requested
// IVA. Data stewards only. The plaintext code is returned exactly once for
// out-of-band delivery; only its hash is stored.
func (s *DataAccessSmartContract) CreateIvaVerificationCode(ctx contractapi.TransactionContextInterface, userID, ivaID string) (string, error) {
	logger.Infof("Chaincode Call: CreateIvaVerificationCode for '%s' of user '%s'", ivaID, userID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return "", fmt.Errorf("CreateIvaVerificationCode: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("CreateIvaVerificationCode: %w", err)
	}

	iva, ivaKey, err := s.getIvaWithKey(ctx, userID, ivaID)
	if err != nil {
		return "", fmt.Errorf("CreateIvaVerificationCode: %w", err)
	}
	if !model.CanTransition(iva.State, model.IvaStateCodeCreated) {
		return "", fmt.Errorf("CreateIvaVerificationCode: IVA '%s' cannot move from %s to %s", ivaID, iva.State, model.IvaStateCodeCreated)
	}

	plainCode, err := newVerificationCode()
	if err != nil {
		return "", fmt.Errorf("CreateIvaVerificationCode: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("CreateIvaVerificationCode: %w", err)
	}

	iva.State = model.IvaStateCodeCreated
	iva.CodeHash = hashSecret(plainCode)
	iva.AttemptsRemaining = maxCodeAttempts
	iva.ChangedAt = now

	if err := s.saveIva(ctx, ivaKey, iva); err != nil {
		return "", fmt.Errorf("CreateIvaVerificationCode: %w", err)
	}

	s.emitAccessEvent(ctx, "IvaCodeCreated", actor, map[string]interface{}{
		"ivaId":  ivaID,
		"userId": userID,
	})
	return plainCode, nil
}

// ConfirmIvaCodeTransmitted records that the verification code has been sent
// over the contact channel. Data stewards only.
func (s *DataAccessSmartContract) ConfirmIvaCodeTransmitted(ctx contractapi.TransactionContextInterface, userID, ivaID string) error {
	logger.Infof("Chaincode Call: ConfirmIvaCodeTransmitted for '%s' of user '%s'", ivaID, userID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("ConfirmIvaCodeTransmitted: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ConfirmIvaCodeTransmitted: %w", err)
	}

	iva, ivaKey, err := s.getIvaWithKey(ctx, userID, ivaID)
	if err != nil {
		return fmt.Errorf("ConfirmIvaCodeTransmitted: %w", err)
	}
	if !model.CanTransition(iva.State, model.IvaStateCodeTransmitted) {
		return fmt.Errorf("ConfirmIvaCodeTransmitted: IVA '%s' cannot move from %s to %s", ivaID, iva.State, model.IvaStateCodeTransmitted)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ConfirmIvaCodeTransmitted: %w", err)
	}
	iva.State = model.IvaStateCodeTransmitted
	iva.ChangedAt = now

	if err := s.saveIva(ctx, ivaKey, iva); err != nil {
		return fmt.Errorf("ConfirmIvaCodeTransmitted: %w", err)
	}

	s.emitAccessEvent(ctx, "IvaCodeTransmitted", actor, map[string]interface{}{
		"ivaId":  ivaID,
		"userId": userID,
	})
	return nil
}

// ValidateIvaCode checks a submitted verification code against the stored
// hash. A match verifies the IVA; a mismatch consumes one attempt, and
// running out of attempts resets the IVA to unverified.
func (s *DataAccessSmartContract) ValidateIvaCode(ctx contractapi.TransactionContextInterface, ivaID, code string) error {
	logger.Infof("Chaincode Call: ValidateIvaCode for '%s'", ivaID)
	actor, err := s.requireRegisteredActor(ctx)
	if err != nil {
		return fmt.Errorf("ValidateIvaCode: %w", err)
	}

	iva, ivaKey, err := s.getIvaWithKey(ctx, actor.fullID, ivaID)
	if err != nil {
		return fmt.Errorf("ValidateIvaCode: %w", err)
	}
	if iva.State != model.IvaStateCodeTransmitted {
		return fmt.Errorf("ValidateIvaCode: IVA '%s' has no transmitted code to validate (state %s)", ivaID, iva.State)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ValidateIvaCode: %w", err)
	}

	if iva.CodeHash != "" && hashSecret(code) == iva.CodeHash {
		iva.State = model.IvaStateVerified
		iva.CodeHash = ""
		iva.AttemptsRemaining = 0
		iva.ChangedAt = now
		if err := s.saveIva(ctx, ivaKey, iva); err != nil {
			return fmt.Errorf("ValidateIvaCode: %w", err)
		}
		s.emitAccessEvent(ctx, "IvaVerified", actor, map[string]interface{}{"ivaId": ivaID})
		logger.Infof("IVA '%s' of user '%s' verified", ivaID, actor.fullID)
		return nil
	}

	iva.AttemptsRemaining--
	if iva.AttemptsRemaining <= 0 {
		iva.State = model.IvaStateUnverified
		iva.CodeHash = ""
		iva.AttemptsRemaining = 0
		iva.ChangedAt = now
		if err := s.saveIva(ctx, ivaKey, iva); err != nil {
			return fmt.Errorf("ValidateIvaCode: %w", err)
		}
		s.emitAccessEvent(ctx, "IvaVerificationAttemptsExhausted", actor, map[string]interface{}{"ivaId": ivaID})
		return fmt.Errorf("ValidateIvaCode: too many wrong codes; IVA '%s' has been reset to unverified", ivaID)
	}
	iva.ChangedAt = now
	if err := s.saveIva(ctx, ivaKey, iva); err != nil {
		return fmt.Errorf("ValidateIvaCode: %w", err)
	}
	return fmt.Errorf("ValidateIvaCode: wrong verification code for IVA '%s' (%d attempts remaining)", ivaID, iva.AttemptsRemaining)
}

// UnverifyIva resets an IVA to unverified, e.g. after the contact address
// turned out to be stale. Data stewards only.
func (s *DataAccessSmartContract) UnverifyIva(ctx contractapi.TransactionContextInterface, userID, ivaID string) error {
	logger.Infof("Chaincode Call: UnverifyIva '%s' of user '%s'", ivaID, userID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("UnverifyIva: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UnverifyIva: %w", err)
	}

	iva, ivaKey, err := s.getIvaWithKey(ctx, userID, ivaID)
	if err != nil {
		return fmt.Errorf("UnverifyIva: %w", err)
	}
	if !model.CanTransition(iva.State, model.IvaStateUnverified) {
		return fmt.Errorf("UnverifyIva: IVA '%s' is in unknown state '%s'", ivaID, iva.State)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UnverifyIva: %w", err)
	}
	iva.State = model.IvaStateUnverified
	iva.CodeHash = ""
	iva.AttemptsRemaining = 0
	iva.ChangedAt = now

	if err := s.saveIva(ctx, ivaKey, iva); err != nil {
		return fmt.Errorf("UnverifyIva: %w", err)
	}

	s.emitAccessEvent(ctx, "IvaUnverified", actor, map[string]interface{}{
		"ivaId":  ivaID,
		"userId": userID,
	})
	return nil
}

// saveIva marshals and writes an IVA under its composite key.
func (s *DataAccessSmartContract) saveIva(ctx contractapi.TransactionContextInterface, ivaKey string, iva *model.Iva) error {
	ivaBytes, err := json.Marshal(iva)
	if err != nil {
		return fmt.Errorf("failed to marshal IVA '%s': %w", iva.ID, err)
	}
	if err := ctx.GetStub().PutState(ivaKey, ivaBytes); err != nil {
		return fmt.Errorf("failed to save IVA '%s': %w", iva.ID, err)
	}
	return nil
}
