// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package security enforces ACL checks and record-rule domain injection in
// front of every record operation.
package security

import (
	"context"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/LerianStudio/lib-norm/model"
)

// User is the identity record operations run as.
type User struct {
	ID        string
	Groups    []string
	Roles     []string
	Superuser bool
	// Attributes feed record-rule substitution: a rule value "user.region"
	// resolves to Attributes["region"].
	Attributes map[string]any
}

// memberships folds groups and roles into one lookup set.
func (u *User) memberships() map[string]struct{} {
	set := make(map[string]struct{}, len(u.Groups)+len(u.Roles))

	for _, g := range u.Groups {
		set[g] = struct{}{}
	}

	for _, r := range u.Roles {
		set[r] = struct{}{}
	}

	return set
}

// Directory resolves user ids into identities.
type Directory interface {
	UserByID(ctx context.Context, id string) (*User, error)
}

// StaticDirectory is an in-memory Directory, used by embedders without an
// external identity source and by tests.
type StaticDirectory map[string]*User

// UserByID implements Directory.
func (d StaticDirectory) UserByID(ctx context.Context, id string) (*User, error) {
	user, ok := d[id]
	if !ok {
		return nil, norm.UnauthorizedError{
			EntityType: "user",
			Code:       cn.ErrPermissionDenied.Error(),
			Title:      "Unknown User",
			Message:    "No user is registered under the given id.",
		}
	}

	return user, nil
}

// AccessControl evaluates ACL rules declared on models.
type AccessControl struct {
	Registry *model.Registry
}

// Can reports whether user may perform op on modelName. An operation is
// allowed when at least one of the ACL's declared groups or roles matches;
// with no ACL entry for the pair the default is deny unless the user is a
// superuser.
func (a *AccessControl) Can(user *User, modelName string, op cn.Operation) (bool, error) {
	if user == nil {
		return false, nil
	}

	if user.Superuser {
		return true, nil
	}

	m, err := a.Registry.Model(modelName)
	if err != nil {
		return false, err
	}

	groups, declared := m.ACL[op]
	if !declared {
		return false, nil
	}

	member := user.memberships()

	for _, g := range groups {
		if _, ok := member[g]; ok {
			return true, nil
		}
	}

	return false, nil
}

// Check is Can with a typed denial error.
func (a *AccessControl) Check(user *User, modelName string, op cn.Operation) error {
	allowed, err := a.Can(user, modelName, op)
	if err != nil {
		return err
	}

	if !allowed {
		return norm.ValidateBusinessError(cn.ErrPermissionDenied, modelName, string(op), modelName)
	}

	return nil
}
