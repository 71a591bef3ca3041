package dummydb

import (
	"sync"

	"github.com/trezcool/academia/core/profile"
	"github.com/trezcool/academia/core/user"
)

type (
	DB struct {
		user    *userTable
		profile *profileTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	profileTable struct {
		sync.RWMutex
		table map[string]*profile.Profile
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		profile: &profileTable{table: make(map[string]*profile.Profile)},
	}
	return db, nil
}
