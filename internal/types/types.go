package types

import "github.com/google/uuid"

type RequestId string
type LeaseId uuid.UUID

func NewLeaseId() LeaseId {
	return LeaseId(uuid.New())
}

func (u LeaseId) String() string {
	return uuid.UUID(u).String()
}

func (u LeaseId) IsNil() bool {
	return u == LeaseId(uuid.Nil)
}

// DbDriver names a database/sql driver family supported by the pool factory.
type DbDriver string

const (
	DbDriverPostgresql DbDriver = "postgresql"
	DbDriverFirebird   DbDriver = "firebird"
)
