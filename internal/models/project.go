package models

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project groups the devices of one owner. Its Code is allocated once from the
// global project code sequence and never changes.
type Project struct {
	Base
	OwnerID     uuid.UUID `json:"owner_id" gorm:"type:uuid;index" example:"aa22666c-0f57-45cb-a449-16efecc04f2e"`
	Code        string    `json:"code" gorm:"uniqueIndex;size:16" example:"PROJ1"`
	Name        string    `json:"name" example:"Greenhouse A"`
	NameKey     string    `json:"-" gorm:"uniqueIndex;size:255"` // NameKey is the case folded name, it backs the global name uniqueness.
	Description string    `json:"description,omitempty" example:"North side tunnel"`
	Legacy      bool      `json:"legacy"` // Legacy is set on the synthetic projects created by the legacy device migration.
	Devices     []*Device `json:"-" gorm:"constraint:OnDelete:CASCADE;"`
}

// NameKey returns the value stored in the uniqueness column for a project name.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (p *Project) BeforeSave(tx *gorm.DB) error {
	p.NameKey = NameKey(p.Name)
	return nil
}

// AddProject is the information needed to add a new Project.
type AddProject struct {
	Name        string `json:"name" example:"Greenhouse A"`
	Description string `json:"description,omitempty" example:"North side tunnel"`
}

// ProjectCodeSequence is the counter row the project code allocator increments.
type ProjectCodeSequence struct {
	Name  string `gorm:"primary_key;size:64"`
	Value int64
}
