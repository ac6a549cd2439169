package rbac

import "strings"

// Menu names the screens whose access is granted per user.
const (
	MenuLeads     = "Leads"
	MenuCustomers = "Customers"
	MenuEmployees = "Employees"
	MenuMaterials = "Materials"
	MenuInvoices  = "Invoices"
	MenuPayroll   = "Payroll"
	MenuExpenses  = "Expenses"
	MenuQRCodes   = "QRCodes"
	MenuDashboard = "Dashboard"
)

// RoleAdmin bypasses per-menu checks.
const RoleAdmin = "admin"

// Menus lists every menu known to the back office.
func Menus() []string {
	return []string{
		MenuLeads,
		MenuCustomers,
		MenuEmployees,
		MenuMaterials,
		MenuInvoices,
		MenuPayroll,
		MenuExpenses,
		MenuQRCodes,
		MenuDashboard,
	}
}

// MenuPermission grants read and/or write access to one menu.
type MenuPermission struct {
	View bool `json:"view"`
	Edit bool `json:"edit"`
}

// Gate answers access questions for one actor.
type Gate interface {
	HasAccess(menu string) bool
	CanView(menu string) bool
	CanEdit(menu string) bool
	IsAdmin() bool
}

// Principal is the authenticated actor carried through every operation.
type Principal struct {
	UserID string                    `json:"id"`
	Name   string                    `json:"name"`
	Role   string                    `json:"role"`
	Menus  map[string]MenuPermission `json:"menus"`
}

var _ Gate = Principal{}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return strings.EqualFold(p.Role, RoleAdmin)
}

// HasAccess reports whether the menu is visible at all.
func (p Principal) HasAccess(menu string) bool {
	if p.IsAdmin() {
		return true
	}
	perm, ok := p.lookup(menu)
	return ok && (perm.View || perm.Edit)
}

// CanView reports read access. Edit implies view.
func (p Principal) CanView(menu string) bool {
	return p.HasAccess(menu)
}

// CanEdit reports write access.
func (p Principal) CanEdit(menu string) bool {
	if p.IsAdmin() {
		return true
	}
	perm, ok := p.lookup(menu)
	return ok && perm.Edit
}

func (p Principal) lookup(menu string) (MenuPermission, bool) {
	if perm, ok := p.Menus[menu]; ok {
		return perm, true
	}
	for name, perm := range p.Menus {
		if strings.EqualFold(name, menu) {
			return perm, true
		}
	}
	return MenuPermission{}, false
}
