// Package permission evaluates role x form-type x action rules loaded from a
// data-driven policy, and gates PHI-bearing actions on a per-role flag.
package permission

import (
	"fmt"
	"os"

	"clinical-forms-server/internal/models"

	"gopkg.in/yaml.v3"
)

// Action is an operation a role may perform on a form type.
type Action string

const (
	ActionCreate          Action = "create"
	ActionRead            Action = "read"
	ActionUpdate          Action = "update"
	ActionDelete          Action = "delete"
	ActionTransition      Action = "transition"
	ActionCreateVersion   Action = "create_version"
	ActionRestoreVersion  Action = "restore_version"
	ActionSign            Action = "sign"
	ActionRevokeSignature Action = "revoke_signature"
	ActionViewAudit       Action = "view_audit"
	ActionExport          Action = "export"
)

// Actions lists every action understood by the engine.
var Actions = []Action{
	ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionTransition,
	ActionCreateVersion, ActionRestoreVersion, ActionSign, ActionRevokeSignature,
	ActionViewAudit, ActionExport,
}

func (a Action) valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// Override adjusts a role's default actions for one form type. Deny wins over allow.
type Override struct {
	Allow []Action `yaml:"allow,omitempty" json:"allow,omitempty"`
	Deny  []Action `yaml:"deny,omitempty" json:"deny,omitempty"`
}

// RolePolicy is the rule set of one role.
type RolePolicy struct {
	CanAccessPHI bool                         `yaml:"can_access_phi" json:"canAccessPhi"`
	Default      []Action                     `yaml:"default,omitempty" json:"default,omitempty"`
	FormTypes    map[models.FormType]Override `yaml:"form_types,omitempty" json:"formTypes,omitempty"`
}

// SignatureRequirement lists the roles that must each sign a form type.
type SignatureRequirement struct {
	RequiredRoles []models.Role `yaml:"required_roles" json:"requiredRoles"`
}

// Policy is the full permission and signature-requirement table.
type Policy struct {
	Roles             map[models.Role]RolePolicy               `yaml:"roles" json:"roles"`
	SignatureWorkflow map[models.FormType]SignatureRequirement `yaml:"signature_workflow" json:"signatureWorkflow"`
}

// Validate rejects policies naming unknown roles, form types or actions.
func (p *Policy) Validate() error {
	if len(p.Roles) == 0 {
		return fmt.Errorf("policy defines no roles")
	}
	for role, rp := range p.Roles {
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", role)
		}
		if err := validActions(rp.Default); err != nil {
			return fmt.Errorf("role %s default: %w", role, err)
		}
		for ft, o := range rp.FormTypes {
			if !ft.Valid() {
				return fmt.Errorf("role %s: unknown form type %q", role, ft)
			}
			if err := validActions(o.Allow); err != nil {
				return fmt.Errorf("role %s form type %s allow: %w", role, ft, err)
			}
			if err := validActions(o.Deny); err != nil {
				return fmt.Errorf("role %s form type %s deny: %w", role, ft, err)
			}
		}
	}
	for ft, req := range p.SignatureWorkflow {
		if !ft.Valid() {
			return fmt.Errorf("signature workflow: unknown form type %q", ft)
		}
		if len(req.RequiredRoles) == 0 {
			return fmt.Errorf("signature workflow %s: no required roles", ft)
		}
		seen := make(map[models.Role]bool)
		for _, r := range req.RequiredRoles {
			if !r.Valid() {
				return fmt.Errorf("signature workflow %s: unknown role %q", ft, r)
			}
			if seen[r] {
				return fmt.Errorf("signature workflow %s: duplicate role %q", ft, r)
			}
			seen[r] = true
		}
	}
	return nil
}

func validActions(actions []Action) error {
	for _, a := range actions {
		if !a.valid() {
			return fmt.Errorf("unknown action %q", a)
		}
	}
	return nil
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &p, nil
}

// LoadPolicy reads a YAML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// DefaultPolicy is the built-in rule table used when no policy file is configured.
func DefaultPolicy() *Policy {
	clinical := []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionTransition, ActionCreateVersion,
		ActionRestoreVersion, ActionSign, ActionViewAudit, ActionExport,
	}
	return &Policy{
		Roles: map[models.Role]RolePolicy{
			models.RoleAdmin: {
				CanAccessPHI: true,
				Default:      append([]Action(nil), Actions...),
			},
			models.RoleDoctor: {
				CanAccessPHI: true,
				Default:      clinical,
			},
			models.RoleNurse: {
				CanAccessPHI: true,
				Default:      []Action{ActionRead, ActionViewAudit},
				FormTypes: map[models.FormType]Override{
					models.FormTypeNurse: {Allow: []Action{
						ActionCreate, ActionUpdate, ActionTransition, ActionCreateVersion,
						ActionRestoreVersion, ActionSign,
					}},
					models.FormTypeAssessment: {Allow: []Action{ActionCreate, ActionUpdate, ActionCreateVersion}},
					models.FormTypeDoctor:     {Deny: []Action{ActionViewAudit}},
				},
			},
			models.RoleReceptionist: {
				CanAccessPHI: false,
				FormTypes: map[models.FormType]Override{
					models.FormTypePatient: {Allow: []Action{ActionCreate, ActionRead, ActionUpdate}},
					models.FormTypeConsent: {Allow: []Action{ActionCreate, ActionRead}},
				},
			},
			models.RolePatient: {
				CanAccessPHI: true,
				FormTypes: map[models.FormType]Override{
					models.FormTypePatient: {Allow: []Action{ActionRead, ActionUpdate, ActionSign}},
					models.FormTypeConsent: {Allow: []Action{ActionRead, ActionSign}},
				},
			},
		},
		SignatureWorkflow: map[models.FormType]SignatureRequirement{
			models.FormTypeNurse:      {RequiredRoles: []models.Role{models.RoleNurse, models.RoleDoctor}},
			models.FormTypeDoctor:     {RequiredRoles: []models.Role{models.RoleDoctor}},
			models.FormTypePatient:    {RequiredRoles: []models.Role{models.RolePatient}},
			models.FormTypeConsent:    {RequiredRoles: []models.Role{models.RolePatient, models.RoleDoctor}},
			models.FormTypeAssessment: {RequiredRoles: []models.Role{models.RoleDoctor}},
		},
	}
}
