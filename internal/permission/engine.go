package permission

import (
	"fmt"
	"sync"

	"clinical-forms-server/internal/models"
)

// Reason explains a denial.
type Reason string

const (
	ReasonRoleUnknown        Reason = "role_unknown"
	ReasonFormTypeUnknown    Reason = "form_type_unknown"
	ReasonActionNotPermitted Reason = "action_not_permitted"
	ReasonPHIAccessDenied    Reason = "phi_access_denied"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Err converts a denial into the matching domain error; nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	if d.Reason == ReasonPHIAccessDenied {
		return models.ErrPhiAccessDenied
	}
	return fmt.Errorf("%w: %s", models.ErrPermissionDenied, d.Reason)
}

type ruleKey struct {
	role     models.Role
	formType models.FormType
	action   Action
}

// Engine answers authorization questions against a compiled Policy. It has no
// side effects and is safe for concurrent use.
type Engine struct {
	mu      sync.RWMutex
	rules   map[ruleKey]bool
	phi     map[models.Role]bool
	signers map[models.FormType][]models.Role
}

// NewEngine compiles p into a lookup table.
func NewEngine(p *Policy) (*Engine, error) {
	e := &Engine{}
	if err := e.Reload(p); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload atomically swaps the rule table for p.
func (e *Engine) Reload(p *Policy) error {
	if p == nil {
		return fmt.Errorf("nil policy")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	rules := make(map[ruleKey]bool)
	phi := make(map[models.Role]bool)
	for role, rp := range p.Roles {
		phi[role] = rp.CanAccessPHI
		for _, ft := range models.FormTypes {
			for _, a := range rp.Default {
				rules[ruleKey{role, ft, a}] = true
			}
			o, ok := rp.FormTypes[ft]
			if !ok {
				continue
			}
			for _, a := range o.Allow {
				rules[ruleKey{role, ft, a}] = true
			}
			for _, a := range o.Deny {
				delete(rules, ruleKey{role, ft, a})
			}
		}
	}

	signers := make(map[models.FormType][]models.Role, len(p.SignatureWorkflow))
	for ft, req := range p.SignatureWorkflow {
		signers[ft] = append([]models.Role(nil), req.RequiredRoles...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.phi = phi
	e.signers = signers
	return nil
}

// Authorize decides whether role may perform action on formType. Unknown roles
// and form types always deny. isPHI requires the role's PHI flag in addition.
func (e *Engine) Authorize(role models.Role, formType models.FormType, action Action, isPHI bool) Decision {
	if !role.Valid() {
		return Decision{Reason: ReasonRoleUnknown}
	}
	if !formType.Valid() {
		return Decision{Reason: ReasonFormTypeUnknown}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, known := e.phi[role]; !known {
		return Decision{Reason: ReasonRoleUnknown}
	}
	if !e.rules[ruleKey{role, formType, action}] {
		return Decision{Reason: ReasonActionNotPermitted}
	}
	if isPHI && !e.phi[role] {
		return Decision{Reason: ReasonPHIAccessDenied}
	}
	return Decision{Allowed: true}
}

// Check is Authorize returning the domain error directly.
func (e *Engine) Check(role models.Role, formType models.FormType, action Action, isPHI bool) error {
	return e.Authorize(role, formType, action, isPHI).Err()
}

// CanAccessPHI reports the role's global PHI flag.
func (e *Engine) CanAccessPHI(role models.Role) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phi[role]
}

// Permissions returns the effective actions of role per form type.
func (e *Engine) Permissions(role models.Role) map[models.FormType][]Action {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[models.FormType][]Action)
	for _, ft := range models.FormTypes {
		for _, a := range Actions {
			if e.rules[ruleKey{role, ft, a}] {
				out[ft] = append(out[ft], a)
			}
		}
	}
	return out
}

// RequiredSigners returns the roles that must sign formType.
func (e *Engine) RequiredSigners(formType models.FormType) []models.Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]models.Role(nil), e.signers[formType]...)
}

// IsRequiredSigner reports whether role is one of formType's required signers.
func (e *Engine) IsRequiredSigner(formType models.FormType, role models.Role) bool {
	for _, r := range e.RequiredSigners(formType) {
		if r == role {
			return true
		}
	}
	return false
}
