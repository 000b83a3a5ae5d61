package contract

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the
// stub. All "now" and "today" values in the access-lifecycle logic derive
// from it so that every endorser computes the same result.
func (s *DataAccessSmartContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

// getCurrentActorInfo resolves the transaction invoker against the user
// registry. Name and email stay empty for callers that never registered.
func (s *DataAccessSmartContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	reg := NewUserRegistry(ctx)
	fullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's FullID: %w", err)
	}

	var name, email string
	if user, errGet := reg.GetUser(fullID); errGet == nil && user != nil {
		name = user.Name
		email = user.Email
	} else {
		logger.Debugf("Could not retrieve RegisteredUser for actor %s: %v", fullID, errGet)
	}

	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}
	return &actorInfo{fullID: fullID, name: name, email: email, mspID: mspID}, nil
}

// requireRegisteredActor is getCurrentActorInfo plus the constraint that the
// caller has a user record; submitting requests or creating IVAs makes no
// sense for unknown identities.
func (s *DataAccessSmartContract) requireRegisteredActor(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return nil, err
	}
	if actor.name == "" && actor.email == "" {
		return nil, fmt.Errorf("caller '%s' is not a registered user", actor.fullID)
	}
	return actor, nil
}

// --- Key Creation Helpers (using Composite Keys) ---

func (s *DataAccessSmartContract) createRequestKey(ctx contractapi.TransactionContextInterface, requestID string) (string, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return "", errors.New("requestID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(requestObjectType, []string{requestID})
}

func (s *DataAccessSmartContract) createGrantKey(ctx contractapi.TransactionContextInterface, grantID string) (string, error) {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return "", errors.New("grantID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(grantObjectType, []string{grantID})
}

// createIvaKey keys IVAs by owner first so a user's addresses can be listed
// with a partial composite key query.
func (s *DataAccessSmartContract) createIvaKey(ctx contractapi.TransactionContextInterface, userID, ivaID string) (string, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(ivaID) == "" {
		return "", errors.New("userID and ivaID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(ivaObjectType, []string{userID, ivaID})
}

func (s *DataAccessSmartContract) createWorkPackageKey(ctx contractapi.TransactionContextInterface, workPackageID string) (string, error) {
	workPackageID = strings.TrimSpace(workPackageID)
	if workPackageID == "" {
		return "", errors.New("workPackageID cannot be empty")
	}
	return ctx.GetStub().CreateCompositeKey(workPackageObjectType, []string{workPackageID})
}

func (s *DataAccessSmartContract) createPolicyKey(ctx contractapi.TransactionContextInterface) (string, error) {
	return ctx.GetStub().CreateCompositeKey(policyObjectType, []string{"singleton"})
}

// --- Validation Helper Functions ---

var (
	ticketIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-[0-9]+$`)
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

func (s *DataAccessSmartContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *DataAccessSmartContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *DataAccessSmartContract) validateEmail(input, field string) error {
	if err := s.validateRequiredString(input, field, maxStringInputLength); err != nil {
		return err
	}
	if !emailPattern.MatchString(input) {
		return fmt.Errorf("%s is not a valid email address", field)
	}
	return nil
}

// validateTicketID enforces the tracker pattern (e.g. "GHGA-1234"). Empty
// input is allowed; tickets are optional annotations.
func (s *DataAccessSmartContract) validateTicketID(input string) error {
	if input == "" {
		return nil
	}
	if !ticketIDPattern.MatchString(input) {
		return fmt.Errorf("ticketId '%s' does not match the expected pattern (e.g. 'GHGA-1234')", input)
	}
	return nil
}

func parseDateString(str, field string, required bool) (time.Time, error) {
	sTrimmed := strings.TrimSpace(str)
	if sTrimmed == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is a required date field and cannot be empty", field)
		}
		return time.Time{}, nil // Return zero time if optional and empty
	}
	t, err := time.Parse(time.RFC3339, sTrimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid format for %s (expected RFC3339 'YYYY-MM-DDTHH:MM:SSZ'): %w", field, err)
	}
	return t, nil
}

// --- Duration Policy Access ---

// loadDurationPolicy returns the stored policy, falling back to the
// compiled-in defaults when no admin has set one yet.
func (s *DataAccessSmartContract) loadDurationPolicy(ctx contractapi.TransactionContextInterface) (model.DurationPolicy, error) {
	policyKey, err := s.createPolicyKey(ctx)
	if err != nil {
		return model.DurationPolicy{}, fmt.Errorf("failed to create policy key: %w", err)
	}
	policyBytes, err := ctx.GetStub().GetState(policyKey)
	if err != nil {
		return model.DurationPolicy{}, fmt.Errorf("failed to read duration policy from ledger: %w", err)
	}
	if policyBytes == nil {
		return model.DefaultDurationPolicy(), nil
	}
	var policy model.DurationPolicy
	if err := json.Unmarshal(policyBytes, &policy); err != nil {
		return model.DurationPolicy{}, fmt.Errorf("failed to unmarshal stored duration policy: %w", err)
	}
	return policy, nil
}

// --- Verification Codes and Tokens ---

const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // no 0/O/1/I

// newVerificationCode generates a short human-transmittable code.
func newVerificationCode() (string, error) {
	code := make([]byte, verificationCodeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

// newDownloadToken mints an opaque work-package token.
func newDownloadToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate download token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// hashSecret stores only digests of codes and tokens on the ledger.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// --- Eventing ---

// emitAccessEvent sends a chaincode event with a JSON payload. Failures are
// logged, never returned; events are advisory.
func (s *DataAccessSmartContract) emitAccessEvent(ctx contractapi.TransactionContextInterface, eventName string, actor *actorInfo, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if actor != nil {
		payload["actorFullId"] = actor.fullID
	}
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitAccessEvent: Failed to marshal event payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitAccessEvent: Failed to set event '%s': %v", eventName, errSet)
	}
}

// requireSteward ensures the caller is a data steward (admins pass too).
func (s *DataAccessSmartContract) requireSteward(reg *UserRegistry) error {
	return reg.RequireRole(roleDataSteward)
}

// requireAdmin is a helper to check if the current caller is an admin.
func (s *DataAccessSmartContract) requireAdmin(reg *UserRegistry) error {
	isCallerAdmin, err := reg.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerID, _ := reg.GetCurrentUserFullID() // Best effort to get ID for logging
		return fmt.Errorf("unauthorized: caller '%s' is not an admin", callerID)
	}
	return nil
}
