package bridge

import (
	"github.com/oklog/ulid/v2"
)

// comparable
// Ids are ulids, so ids from one process are unique and ordered by create time.
type Id ulid.ULID

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	id, err := ulid.ParseStrict(idStr)
	if err != nil {
		return Id{}, err
	}
	return Id(id), nil
}

func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) LessThan(b Id) bool {
	return ulid.ULID(self).Compare(ulid.ULID(b)) < 0
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
