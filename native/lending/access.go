package lending

import "github.com/ethereum/go-ethereum/common"

// AccessControl gates the borrow path and parameter-setting operations.
type AccessControl interface {
	IsAuthorizedBorrower(addr common.Address) bool
	IsAdmin(addr common.Address) bool
}

// StaticAccessList is an AccessControl backed by fixed allow lists, suitable
// for configuration-driven deployments and tests.
type StaticAccessList struct {
	borrowers map[common.Address]struct{}
	admins    map[common.Address]struct{}
}

// NewStaticAccessList builds an access list from the provided addresses.
func NewStaticAccessList(borrowers, admins []common.Address) *StaticAccessList {
	list := &StaticAccessList{
		borrowers: make(map[common.Address]struct{}, len(borrowers)),
		admins:    make(map[common.Address]struct{}, len(admins)),
	}
	for _, addr := range borrowers {
		list.borrowers[addr] = struct{}{}
	}
	for _, addr := range admins {
		list.admins[addr] = struct{}{}
	}
	return list
}

// IsAuthorizedBorrower reports whether addr may draw against the pool.
func (l *StaticAccessList) IsAuthorizedBorrower(addr common.Address) bool {
	if l == nil {
		return false
	}
	_, ok := l.borrowers[addr]
	return ok
}

// IsAdmin reports whether addr may change pool parameters.
func (l *StaticAccessList) IsAdmin(addr common.Address) bool {
	if l == nil {
		return false
	}
	_, ok := l.admins[addr]
	return ok
}
