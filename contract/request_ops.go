package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Requester Operations ---

// SubmitAccessRequest files a new request for access to a dataset. The caller
// must be a registered user; the requested window must satisfy the duration
// policy. An optional IVA may be referenced up front, otherwise one is bound
// on approval.
func (s *DataAccessSmartContract) SubmitAccessRequest(ctx contractapi.TransactionContextInterface,
	requestID, datasetID, datasetTitle, dacAlias, dacEmail, requestText,
	accessStartsStr, accessEndsStr, ivaID string) error {

	logger.Infof("Chaincode Call: SubmitAccessRequest ID '%s' for dataset '%s'", requestID, datasetID)
	actor, err := s.requireRegisteredActor(ctx)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}

	if err := s.validateRequiredString(requestID, "requestID", maxStringInputLength); err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	if err := s.validateRequiredString(datasetID, "datasetID", maxStringInputLength); err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	if err := s.validateOptionalString(datasetTitle, "datasetTitle", maxStringInputLength); err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	if err := s.validateOptionalString(dacAlias, "dacAlias", maxStringInputLength); err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	if dacEmail != "" {
		if err := s.validateEmail(dacEmail, "dacEmail"); err != nil {
			return fmt.Errorf("SubmitAccessRequest: %w", err)
		}
	}
	if err := s.validateRequiredString(requestText, "requestText", maxRequestTextLength); err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}

	accessStarts, err := parseDateString(accessStartsStr, "accessStarts", true)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	accessEnds, err := parseDateString(accessEndsStr, "accessEnds", true)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}

	accessStarts = model.StartOfDay(accessStarts)
	accessEnds = model.EndOfDay(accessEnds)

	fromRange := model.FromRange(policy, now)
	if !fromRange.Contains(accessStarts) {
		return fmt.Errorf("SubmitAccessRequest: access start date %s is outside the allowed window [%s, %s]",
			accessStarts.Format("2006-01-02"), fromRange.Min.Format("2006-01-02"), fromRange.Max.Format("2006-01-02"))
	}
	untilRange := model.UntilRangeForFrom(policy, accessStarts)
	if untilRange.Invalid {
		return errors.New("SubmitAccessRequest: the duration policy permits no end date for the chosen start date")
	}
	if !untilRange.Contains(accessEnds) {
		return fmt.Errorf("SubmitAccessRequest: access end date %s is outside the allowed window [%s, %s]",
			accessEnds.Format("2006-01-02"), untilRange.Min.Format("2006-01-02"), untilRange.Max.Format("2006-01-02"))
	}

	// IVAs are keyed by owner, so this lookup also proves ownership.
	if ivaID != "" {
		if _, errIva := s.getIva(ctx, actor.fullID, ivaID); errIva != nil {
			return fmt.Errorf("SubmitAccessRequest: referenced IVA '%s': %w", ivaID, errIva)
		}
	}

	requestKey, err := s.createRequestKey(ctx, requestID)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	existing, err := ctx.GetStub().GetState(requestKey)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: failed to check for existing request '%s': %w", requestID, err)
	}
	if existing != nil {
		return fmt.Errorf("SubmitAccessRequest: access request '%s' already exists", requestID)
	}

	// One open request per user and dataset; a second submission while the
	// first is undecided is almost always a mistake.
	pending, err := s.findPendingRequest(ctx, actor.fullID, datasetID)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: %w", err)
	}
	if pending != nil {
		return fmt.Errorf("SubmitAccessRequest: a pending request ('%s') for dataset '%s' already exists", pending.ID, datasetID)
	}

	request := model.AccessRequest{
		ObjectType:      requestObjectType,
		ID:              requestID,
		UserID:          actor.fullID,
		UserName:        actor.name,
		UserEmail:       actor.email,
		DatasetID:       datasetID,
		DatasetTitle:    datasetTitle,
		DacAlias:        dacAlias,
		DacEmail:        dacEmail,
		RequestText:     requestText,
		AccessStarts:    accessStarts,
		AccessEnds:      accessEnds,
		CreatedAt:       now,
		Status:          model.RequestStatusPending,
		StatusChangedAt: now,
		IvaID:           ivaID,
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("SubmitAccessRequest: failed to marshal request '%s': %w", requestID, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("SubmitAccessRequest: failed to save request '%s': %w", requestID, err)
	}

	s.emitAccessEvent(ctx, "AccessRequestSubmitted", actor, map[string]interface{}{
		"requestId": requestID,
		"datasetId": datasetID,
	})
	logger.Infof("Access request '%s' submitted by '%s' for dataset '%s'", requestID, actor.fullID, datasetID)
	return nil
}

// findPendingRequest scans for an undecided request of the given user for the
// given dataset.
func (s *DataAccessSmartContract) findPendingRequest(ctx contractapi.TransactionContextInterface, userID, datasetID string) (*model.AccessRequest, error) {
	iterator, err := ctx.GetStub().GetStateByPartialCompositeKey(requestObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to query access requests: %w", err)
	}
	defer iterator.Close()

	for iterator.HasNext() {
		queryResponse, iterErr := iterator.Next()
		if iterErr != nil {
			logger.Warningf("findPendingRequest: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var request model.AccessRequest
		if err := json.Unmarshal(queryResponse.Value, &request); err != nil {
			logger.Warningf("findPendingRequest: failed to unmarshal request for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if request.IsPending() && request.UserID == userID && strings.EqualFold(request.DatasetID, datasetID) {
			return &request, nil
		}
	}
	return nil, nil
}

// UpdateAccessRequestDuration changes the requested access window of a still
// pending request. Data stewards only; decided requests are immutable.
func (s *DataAccessSmartContract) UpdateAccessRequestDuration(ctx contractapi.TransactionContextInterface,
	requestID, accessStartsStr, accessEndsStr string) error {

	logger.Infof("Chaincode Call: UpdateAccessRequestDuration for '%s'", requestID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}

	request, requestKey, err := s.getAccessRequestByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}
	if !request.IsPending() {
		return fmt.Errorf("UpdateAccessRequestDuration: request '%s' is already decided (%s)", requestID, request.Status)
	}

	accessStarts, err := parseDateString(accessStartsStr, "accessStarts", true)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}
	accessEnds, err := parseDateString(accessEndsStr, "accessEnds", true)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}
	policy, err := s.loadDurationPolicy(ctx)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: %w", err)
	}

	accessStarts = model.StartOfDay(accessStarts)
	accessEnds = model.EndOfDay(accessEnds)

	if !model.FromRange(policy, now).Contains(accessStarts) {
		return fmt.Errorf("UpdateAccessRequestDuration: access start date %s violates the duration policy", accessStarts.Format("2006-01-02"))
	}
	if !model.UntilRangeForFrom(policy, accessStarts).Contains(accessEnds) {
		return fmt.Errorf("UpdateAccessRequestDuration: access end date %s violates the duration policy", accessEnds.Format("2006-01-02"))
	}

	request.AccessStarts = accessStarts
	request.AccessEnds = accessEnds

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: failed to marshal request '%s': %w", requestID, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("UpdateAccessRequestDuration: failed to save request '%s': %w", requestID, err)
	}

	s.emitAccessEvent(ctx, "AccessRequestDurationUpdated", actor, map[string]interface{}{
		"requestId":    requestID,
		"accessStarts": accessStarts,
		"accessEnds":   accessEnds,
	})
	return nil
}

// AnnotateAccessRequest sets the steward bookkeeping fields of a request:
// ticket id, internal note and the note shown to the requester. Empty
// arguments leave the stored field unchanged. Works on decided requests too;
// the decision itself stays untouched.
func (s *DataAccessSmartContract) AnnotateAccessRequest(ctx contractapi.TransactionContextInterface,
	requestID, ticketID, internalNote, noteToRequester string) error {

	logger.Infof("Chaincode Call: AnnotateAccessRequest for '%s'", requestID)
	reg := NewUserRegistry(ctx)
	if err := s.requireSteward(reg); err != nil {
		return fmt.Errorf("AnnotateAccessRequest: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("AnnotateAccessRequest: %w", err)
	}

	if err := s.validateTicketID(ticketID); err != nil {
		return fmt.Errorf("AnnotateAccessRequest: %w", err)
	}
	if err := s.validateOptionalString(internalNote, "internalNote", maxNoteLength); err != nil {
		return fmt.Errorf("AnnotateAccessRequest: %w", err)
	}
	if err := s.validateOptionalString(noteToRequester, "noteToRequester", maxNoteLength); err != nil {
		return fmt.Errorf("AnnotateAccessRequest: %w", err)
	}

	request, requestKey, err := s.getAccessRequestByID(ctx, requestID)
	if err != nil {
		return fmt.Errorf("AnnotateAccessRequest: %w", err)
	}

	if ticketID != "" {
		request.TicketID = ticketID
	}
	if internalNote != "" {
		request.InternalNote = internalNote
	}
	if noteToRequester != "" {
		request.NoteToRequester = noteToRequester
	}

	requestBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("AnnotateAccessRequest: failed to marshal request '%s': %w", requestID, err)
	}
	if err := ctx.GetStub().PutState(requestKey, requestBytes); err != nil {
		return fmt.Errorf("AnnotateAccessRequest: failed to save request '%s': %w", requestID, err)
	}

	s.emitAccessEvent(ctx, "AccessRequestAnnotated", actor, map[string]interface{}{
		"requestId": requestID,
		"ticketId":  ticketID,
	})
	return nil
}
