package auth

// Matrix maps module -> action -> granted.
type Matrix map[string]map[string]bool

const (
	ModuleEmployees   = "employees"
	ModuleAssets      = "assets"
	ModuleExpenses    = "expenses"
	ModuleIncome      = "income"
	ModuleAnalytics   = "analytics"
	ModuleTasks       = "tasks"
	ModuleFiles       = "files"
	ModuleAttendance  = "attendance"
	ModuleLeave       = "leave"
	ModulePerformance = "performance"
	ModuleEvents      = "events"
)

const (
	ActionView     = "view"
	ActionCreate   = "create"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
	ActionManage   = "manage"
	ActionUpload   = "upload"
	ActionDownload = "download"
)

var (
	crud       = []string{ActionView, ActionCreate, ActionUpdate, ActionDelete}
	crudManage = []string{ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionManage}
)

type moduleSchema struct {
	name    string
	actions []string
}

// schema is the closed set of modules and the actions each one exposes.
var schema = []moduleSchema{
	{ModuleEmployees, crud},
	{ModuleAssets, crud},
	{ModuleExpenses, crud},
	{ModuleIncome, crud},
	{ModuleAnalytics, []string{ActionView}},
	{ModuleTasks, crudManage},
	{ModuleFiles, []string{ActionView, ActionUpload, ActionDownload, ActionDelete}},
	{ModuleAttendance, crudManage},
	{ModuleLeave, crudManage},
	{ModulePerformance, crud},
	{ModuleEvents, crudManage},
}

// grants lists the actions a role holds by default. Admin holds everything.
var grants = map[Role]map[string][]string{
	RoleManager: {
		ModuleEmployees:   {ActionView, ActionCreate, ActionUpdate},
		ModuleAssets:      {ActionView, ActionCreate, ActionUpdate},
		ModuleExpenses:    {ActionView, ActionCreate, ActionUpdate},
		ModuleIncome:      {ActionView, ActionCreate, ActionUpdate},
		ModuleAnalytics:   {ActionView},
		ModuleTasks:       {ActionView, ActionCreate, ActionUpdate, ActionManage},
		ModuleFiles:       {ActionView, ActionUpload, ActionDownload},
		ModuleAttendance:  {ActionView, ActionCreate, ActionUpdate, ActionManage},
		ModuleLeave:       {ActionView, ActionCreate, ActionUpdate, ActionManage},
		ModulePerformance: {ActionView, ActionCreate, ActionUpdate},
		ModuleEvents:      {ActionView, ActionCreate, ActionUpdate, ActionManage},
	},
	RoleEmployee: {
		ModuleEmployees:   {ActionView},
		ModuleAssets:      {ActionView},
		ModuleExpenses:    {ActionView, ActionCreate},
		ModuleIncome:      {ActionView, ActionCreate},
		ModuleTasks:       {ActionView, ActionUpdate},
		ModuleFiles:       {ActionView, ActionUpload, ActionDownload, ActionDelete},
		ModuleAttendance:  {ActionView, ActionCreate},
		ModuleLeave:       {ActionView, ActionCreate},
		ModulePerformance: {ActionView},
		ModuleEvents:      {ActionView},
	},
}

// employeeFloor is re-asserted on every normalization of an employee matrix.
var employeeFloor = []struct{ module, action string }{
	{ModuleFiles, ActionView},
	{ModuleFiles, ActionUpload},
	{ModuleLeave, ActionView},
	{ModuleLeave, ActionCreate},
	{ModuleAttendance, ActionView},
	{ModuleAttendance, ActionCreate},
}

// DefaultsFor returns a freshly allocated default matrix for role.
// Unknown roles receive an all-false matrix.
func DefaultsFor(role Role) Matrix {
	out := make(Matrix, len(schema))
	granted := grants[role]
	for _, m := range schema {
		actions := make(map[string]bool, len(m.actions))
		for _, a := range m.actions {
			actions[a] = role == RoleAdmin
		}
		for _, a := range granted[m.name] {
			actions[a] = true
		}
		out[m.name] = actions
	}
	return out
}

// Normalize merges stored over the defaults of role. Stored values win for
// known module/action pairs; unknown pairs are dropped. Employee accounts
// always keep the baseline self-service grants. Normalize is idempotent.
func Normalize(stored Matrix, role Role) Matrix {
	out := DefaultsFor(role)
	for module, actions := range out {
		saved := stored[module]
		for action := range actions {
			if v, ok := saved[action]; ok {
				actions[action] = v
			}
		}
	}
	if role == RoleEmployee {
		for _, g := range employeeFloor {
			out[g.module][g.action] = true
		}
	}
	return out
}

// Allows reports whether the matrix grants action on module.
func (m Matrix) Allows(module, action string) bool {
	return m[module][action]
}

// Clone deep-copies the matrix.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for module, actions := range m {
		cp := make(map[string]bool, len(actions))
		for a, v := range actions {
			cp[a] = v
		}
		out[module] = cp
	}
	return out
}

// Equal reports whether both matrices hold the same grants.
func (m Matrix) Equal(other Matrix) bool {
	if len(m) != len(other) {
		return false
	}
	for module, actions := range m {
		o, ok := other[module]
		if !ok || len(o) != len(actions) {
			return false
		}
		for a, v := range actions {
			if ov, ok := o[a]; !ok || ov != v {
				return false
			}
		}
	}
	return true
}

// KnownPermission reports whether module/action is part of the schema.
func KnownPermission(module, action string) bool {
	for _, m := range schema {
		if m.name != module {
			continue
		}
		for _, a := range m.actions {
			if a == action {
				return true
			}
		}
	}
	return false
}
