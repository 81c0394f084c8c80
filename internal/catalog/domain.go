package catalog

import "time"

// RiskType classifies how dangerous a permission is when granted.
type RiskType string

const (
	RiskView   RiskType = "view"
	RiskCreate RiskType = "create"
	RiskEdit   RiskType = "edit"
	RiskDelete RiskType = "delete"
	RiskManage RiskType = "manage"
)

// Valid reports whether the risk type is one of the known classifications.
func (r RiskType) Valid() bool {
	switch r {
	case RiskView, RiskCreate, RiskEdit, RiskDelete, RiskManage:
		return true
	}
	return false
}

// Permission represents an atomic, named capability.
//
// Name is the stable identity (dotted hierarchical string such as
// "users.delete") and is immutable for system permissions. DependsOn is a
// validated hint relation only; it never affects access decisions.
type Permission struct {
	ID        int64
	Name      string
	Label     string
	Module    string
	Risk      RiskType
	IsSystem  bool
	DependsOn []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
