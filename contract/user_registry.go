package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"datashare/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var regLogger = flogging.MustGetLogger("datashare.userregistry")

// Object types for composite keys, also usable as 'objectType' in CouchDB.
const (
	userObjectType      = "RegisteredUser" // Stores RegisteredUser objects. Attribute for composite key: FullID.
	adminFlagObjectType = "AdminFlag"      // Stores a flag for admin status. Attribute for composite key: FullID.
)

// roleDataSteward is the role allowed to decide requests, manage IVAs and
// revoke grants.
const roleDataSteward = "data_steward"

// ValidRoles defines the set of permissible roles in the system.
var ValidRoles = map[string]bool{
	roleDataSteward: true,
	// "admin" is a special status, managed by IsAdmin, not a role in this list.
}

// UserRegistry handles user registration, role management, and admin
// privileges for the data portal.
type UserRegistry struct {
	Ctx contractapi.TransactionContextInterface
}

// NewUserRegistry creates a new instance of UserRegistry.
func NewUserRegistry(ctx contractapi.TransactionContextInterface) *UserRegistry {
	return &UserRegistry{Ctx: ctx}
}

// --- Internal Helper Functions ---

func (reg *UserRegistry) getCurrentTxTimestamp() (time.Time, error) {
	ts, err := reg.Ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func isValidX509ID(id string) bool {
	// Basic check, can be enhanced if specific X.509 formats are enforced.
	return strings.HasPrefix(id, "x509::") || strings.HasPrefix(id, "eDUwOTo6") // "eDUwOTo6" is "x509::" base64 encoded
}

func (reg *UserRegistry) listOfValidRoles() []string {
	keys := make([]string, 0, len(ValidRoles))
	for k := range ValidRoles {
		keys = append(keys, k)
	}
	return keys
}

func (reg *UserRegistry) createUserKey(fullID string) (string, error) {
	return reg.Ctx.GetStub().CreateCompositeKey(userObjectType, []string{fullID})
}

func (reg *UserRegistry) createAdminFlagKey(fullID string) (string, error) {
	return reg.Ctx.GetStub().CreateCompositeKey(adminFlagObjectType, []string{fullID})
}

// --- Public User Management Functions ---

// RegisterUser creates or updates a user record. While no admin exists the
// call runs in bootstrap mode; afterwards only admins may register users.
func (reg *UserRegistry) RegisterUser(targetFullID, name, email, title string) error {
	anyAdminCurrentlyExists, err := reg.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check if any admin exists during RegisterUser: %w", err)
	}

	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		regLogger.Warningf("RegisterUser: Could not get current caller's FullID: %v", err)
		if anyAdminCurrentlyExists {
			return fmt.Errorf("failed to get current caller's FullID: %w", err)
		}
		callerFullID = "SYSTEM_BOOTSTRAP"
	}

	if anyAdminCurrentlyExists {
		isCallerAdmin, errAdminCheck := reg.IsCurrentUserAdmin()
		if errAdminCheck != nil {
			return fmt.Errorf("failed to verify caller admin status for RegisterUser: %w", errAdminCheck)
		}
		if !isCallerAdmin {
			return fmt.Errorf("caller '%s' is not authorized to register users as admins already exist in the system", callerFullID)
		}
	} else {
		regLogger.Infof("RegisterUser proceeding in bootstrap mode: Caller assumed '%s'.", callerFullID)
	}

	if !isValidX509ID(targetFullID) {
		return fmt.Errorf("targetFullID '%s' is not a valid X.509 ID format", targetFullID)
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("name cannot be empty")
	}
	if strings.TrimSpace(email) == "" {
		return errors.New("email cannot be empty")
	}
	// Title is optional.

	now, err := reg.getCurrentTxTimestamp()
	if err != nil {
		return err
	}

	userKey, err := reg.createUserKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create user composite key for '%s': %w", targetFullID, err)
	}
	userBytes, err := reg.Ctx.GetStub().GetState(userKey)
	if err != nil {
		return fmt.Errorf("failed to get user state for '%s': %w", targetFullID, err)
	}

	var user model.RegisteredUser
	if userBytes == nil {
		user = model.RegisteredUser{
			ObjectType:    userObjectType,
			FullID:        targetFullID,
			Name:          name,
			Email:         email,
			Title:         title,
			Roles:         []string{},
			IsAdmin:       false,
			RegisteredBy:  callerFullID, // Could be "SYSTEM_BOOTSTRAP" if no admins yet
			RegisteredAt:  now,
			LastUpdatedAt: now,
		}
		regLogger.Infof("Registering new user: %s (%s) by %s", targetFullID, email, user.RegisteredBy)
	} else {
		if err := json.Unmarshal(userBytes, &user); err != nil {
			return fmt.Errorf("failed to unmarshal existing RegisteredUser for '%s': %w", targetFullID, err)
		}
		user.Name = name
		user.Email = email
		user.Title = title
		user.LastUpdatedAt = now
		// RegisteredBy and RegisteredAt remain from original registration.
		regLogger.Infof("Updating existing user: %s (%s). Updated by %s", targetFullID, email, callerFullID)
	}

	updatedBytes, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal RegisteredUser for '%s': %w", targetFullID, err)
	}
	if err := reg.Ctx.GetStub().PutState(userKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save RegisteredUser for '%s': %w", targetFullID, err)
	}
	return nil
}

// GetUser retrieves the record for a user's full X.509 ID.
func (reg *UserRegistry) GetUser(fullID string) (*model.RegisteredUser, error) {
	if !isValidX509ID(fullID) {
		return nil, fmt.Errorf("'%s' is not a valid X.509 ID format", fullID)
	}
	userKey, err := reg.createUserKey(fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to create user composite key for '%s': %w", fullID, err)
	}
	userBytes, err := reg.Ctx.GetStub().GetState(userKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving RegisteredUser for '%s': %w", fullID, err)
	}
	if userBytes == nil {
		return nil, fmt.Errorf("user record not found for '%s'", fullID)
	}
	var user model.RegisteredUser
	if err := json.Unmarshal(userBytes, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal RegisteredUser for '%s': %w", fullID, err)
	}
	if user.Roles == nil {
		user.Roles = []string{}
	}
	return &user, nil
}

// AssignRole grants a role to a registered user. Admin only.
func (reg *UserRegistry) AssignRole(targetFullID, role string) error {
	isCallerAdmin, err := reg.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to verify caller admin status for AssignRole: %w", err)
	}
	if !isCallerAdmin {
		callerFullID, _ := reg.GetCurrentUserFullID()
		return fmt.Errorf("caller '%s' is not authorized to assign roles", callerFullID)
	}

	roleLower := strings.ToLower(strings.TrimSpace(role))
	if !ValidRoles[roleLower] {
		return fmt.Errorf("invalid role: '%s'. Valid roles are: %v", role, reg.listOfValidRoles())
	}

	user, err := reg.GetUser(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot assign role: target user '%s' must be registered first: %w", targetFullID, err)
	}
	if user.HasRole(roleLower) {
		regLogger.Infof("Role '%s' already assigned to user '%s'. No action needed.", roleLower, targetFullID)
		return nil
	}

	now, err := reg.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	user.Roles = append(user.Roles, roleLower)
	user.LastUpdatedAt = now

	return reg.saveUser(user, fmt.Sprintf("role assignment '%s'", roleLower))
}

// RemoveRole removes a role from a registered user. Admin only.
func (reg *UserRegistry) RemoveRole(targetFullID, role string) error {
	isCallerAdmin, err := reg.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to verify caller admin status for RemoveRole: %w", err)
	}
	if !isCallerAdmin {
		callerFullID, _ := reg.GetCurrentUserFullID()
		return fmt.Errorf("caller '%s' is not authorized to remove roles", callerFullID)
	}

	roleLower := strings.ToLower(strings.TrimSpace(role))
	user, err := reg.GetUser(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot remove role: target user '%s' not found: %w", targetFullID, err)
	}

	found := false
	newRoles := []string{}
	for _, r := range user.Roles {
		if r == roleLower {
			found = true
		} else {
			newRoles = append(newRoles, r)
		}
	}
	if !found {
		regLogger.Infof("Role '%s' not found for user '%s'. No action taken for removal.", roleLower, targetFullID)
		return nil
	}

	now, err := reg.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	user.Roles = newRoles
	user.LastUpdatedAt = now

	return reg.saveUser(user, fmt.Sprintf("role removal '%s'", roleLower))
}

func (reg *UserRegistry) saveUser(user *model.RegisteredUser, action string) error {
	updatedBytes, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal RegisteredUser for %s: %w", action, err)
	}
	userKey, err := reg.createUserKey(user.FullID)
	if err != nil {
		return fmt.Errorf("failed to create user key for %s: %w", action, err)
	}
	if err := reg.Ctx.GetStub().PutState(userKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save RegisteredUser after %s for '%s': %w", action, user.FullID, err)
	}
	regLogger.Infof("User '%s' updated: %s", user.FullID, action)
	return nil
}

// HasRole reports whether a user carries the given role. Unknown users have
// no roles.
func (reg *UserRegistry) HasRole(fullID, role string) (bool, error) {
	user, err := reg.GetUser(fullID)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return false, nil
		}
		return false, fmt.Errorf("error loading user '%s' to check role: %w", fullID, err)
	}
	return user.HasRole(strings.ToLower(strings.TrimSpace(role))), nil
}

// RequireRole ensures the current caller carries the given role; admins
// bypass the check.
func (reg *UserRegistry) RequireRole(requiredRole string) error {
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return fmt.Errorf("failed to get current user's FullID for RequireRole: %w", err)
	}

	isAdmin, err := reg.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to check current user '%s' admin status for RequireRole: %w", callerFullID, err)
	}
	if isAdmin {
		regLogger.Debugf("Admin user '%s' authorized for role '%s' check (bypassed role requirement).", callerFullID, requiredRole)
		return nil
	}

	has, err := reg.HasRole(callerFullID, requiredRole)
	if err != nil {
		return fmt.Errorf("error checking role '%s' for current user '%s': %w", requiredRole, callerFullID, err)
	}
	if !has {
		return fmt.Errorf("unauthorized: user '%s' does not have required role '%s'", callerFullID, requiredRole)
	}
	return nil
}

// IsStewardOrAdmin reports whether the caller is a data steward or admin.
func (reg *UserRegistry) IsStewardOrAdmin() (bool, error) {
	isAdmin, err := reg.IsCurrentUserAdmin()
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return false, err
	}
	return reg.HasRole(callerFullID, roleDataSteward)
}

// MakeAdmin grants admin privileges. While no admin exists this is a
// bootstrap action; afterwards only admins may call it.
func (reg *UserRegistry) MakeAdmin(targetFullID string) error {
	anyAdminExists, err := reg.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check if any admin exists for MakeAdmin: %w", err)
	}

	callerFullID, _ := reg.GetCurrentUserFullID()
	if anyAdminExists {
		isCallerAdmin, errAdm := reg.IsAdmin(callerFullID)
		if errAdm != nil {
			return fmt.Errorf("failed to verify caller '%s' admin status for MakeAdmin: %w", callerFullID, errAdm)
		}
		if !isCallerAdmin {
			return fmt.Errorf("caller '%s' is not authorized to make others admin", callerFullID)
		}
	} else {
		regLogger.Infof("No admins exist. Bootstrap: Caller '%s' is making target '%s' an admin.", callerFullID, targetFullID)
	}

	user, err := reg.GetUser(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot make admin: target user '%s' must be registered first: %w", targetFullID, err)
	}

	now, err := reg.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	user.IsAdmin = true
	user.LastUpdatedAt = now
	if err := reg.saveUser(user, "admin grant"); err != nil {
		return err
	}

	adminFlagKey, err := reg.createAdminFlagKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for MakeAdmin: %w", err)
	}
	if err := reg.Ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		// Roll back the record flag so the two stay consistent.
		user.IsAdmin = false
		user.LastUpdatedAt, _ = reg.getCurrentTxTimestamp()
		if errRb := reg.saveUser(user, "admin grant rollback"); errRb != nil {
			regLogger.Errorf("CRITICAL: failed to set admin flag for '%s' AND failed to roll back RegisteredUser.IsAdmin: %v (flag error: %v)", targetFullID, errRb, err)
		}
		return fmt.Errorf("failed to set admin flag for '%s': %w", targetFullID, err)
	}
	regLogger.Infof("User '%s' has been made an admin by '%s'.", targetFullID, callerFullID)
	return nil
}

// RemoveAdmin revokes admin privileges. Admins cannot demote themselves.
func (reg *UserRegistry) RemoveAdmin(targetFullID string) error {
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for RemoveAdmin: %w", err)
	}
	isCallerAdmin, err := reg.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller '%s' admin status for RemoveAdmin: %w", callerFullID, err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("caller '%s' is not authorized to remove admin privileges", callerFullID)
	}
	if targetFullID == callerFullID {
		return errors.New("admins cannot remove their own admin status")
	}

	adminFlagKey, err := reg.createAdminFlagKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for RemoveAdmin: %w", err)
	}

	user, err := reg.GetUser(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot remove admin: target user '%s' not found: %w", targetFullID, err)
	}
	if !user.IsAdmin {
		regLogger.Infof("User '%s' IsAdmin is already false. Ensuring admin flag is also cleared.", targetFullID)
		_ = reg.Ctx.GetStub().DelState(adminFlagKey) // Best effort to clear flag if it was somehow set
		return nil
	}

	now, err := reg.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	user.IsAdmin = false
	user.LastUpdatedAt = now
	if err := reg.saveUser(user, "admin removal"); err != nil {
		return err
	}
	if err := reg.Ctx.GetStub().DelState(adminFlagKey); err != nil {
		return fmt.Errorf("failed to delete admin flag for '%s': %w", targetFullID, err)
	}
	regLogger.Infof("Admin privileges removed from user '%s' by '%s'.", targetFullID, callerFullID)
	return nil
}

// IsAdmin checks admin privileges based on the AdminFlag, which is
// authoritative over the record's IsAdmin field.
func (reg *UserRegistry) IsAdmin(fullID string) (bool, error) {
	adminFlagKey, err := reg.createAdminFlagKey(fullID)
	if err != nil {
		return false, fmt.Errorf("failed to create admin flag key for IsAdmin check on '%s': %w", fullID, err)
	}
	flagBytes, err := reg.Ctx.GetStub().GetState(adminFlagKey)
	if err != nil {
		return false, fmt.Errorf("ledger error checking admin flag for '%s': %w", fullID, err)
	}
	return flagBytes != nil && string(flagBytes) == "true", nil
}

func (reg *UserRegistry) IsCurrentUserAdmin() (bool, error) {
	callerFullID, err := reg.GetCurrentUserFullID()
	if err != nil {
		return false, fmt.Errorf("failed to get current user's FullID for admin check: %w", err)
	}
	return reg.IsAdmin(callerFullID)
}

// AnyAdminExists checks if any admin flag is set on the ledger.
func (reg *UserRegistry) AnyAdminExists() (bool, error) {
	iterator, err := reg.Ctx.GetStub().GetStateByPartialCompositeKey(adminFlagObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to query admin records for AnyAdminExists: %w", err)
	}
	defer iterator.Close()
	return iterator.HasNext(), nil
}

// GetCurrentUserFullID retrieves the full X.509 ID of the current
// transactor.
func (reg *UserRegistry) GetCurrentUserFullID() (string, error) {
	clientIdentity := reg.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New("client identity ID from context is empty")
	}
	if !isValidX509ID(id) {
		regLogger.Warningf("Current client ID '%s' does not appear to be a standard X.509 format.", id)
	}
	return id, nil
}

// GetAllRegisteredUsers returns every user record. Callers are expected to
// have checked privileges already.
func (reg *UserRegistry) GetAllRegisteredUsers() ([]*model.RegisteredUser, error) {
	resultsIterator, err := reg.Ctx.GetStub().GetStateByPartialCompositeKey(userObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get users iterator using objectType '%s': %w", userObjectType, err)
	}
	defer resultsIterator.Close()

	users := []*model.RegisteredUser{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			regLogger.Warningf("Failed to get next user from iterator during GetAllRegisteredUsers: %v. Skipping.", iterErr)
			continue
		}
		var user model.RegisteredUser
		if err := json.Unmarshal(queryResponse.Value, &user); err != nil {
			regLogger.Warningf("Failed to unmarshal user data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if user.Roles == nil {
			user.Roles = []string{}
		}
		users = append(users, &user)
	}
	return users, nil // Will be [] if empty, not null
}
