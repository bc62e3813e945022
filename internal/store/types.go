package store

import (
	"errors"
	"strings"
	"time"

	"github.com/strefethen/dunehd-driver-go/internal/device"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

// Record is one configured player as persisted.
type Record struct {
	EntityID  string    `json:"entity_id" yaml:"entity_id"`
	Name      string    `json:"name" yaml:"name"`
	Host      string    `json:"host" yaml:"host"`
	Port      int       `json:"port" yaml:"port,omitempty"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string    `json:"-" yaml:"password,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Endpoint returns the address the client talks to.
func (r Record) Endpoint() dunehd.Endpoint {
	return dunehd.Endpoint{Host: r.Host, Port: r.Port, Username: r.Username, Password: r.Password}
}

// Config returns the device configuration for the registry.
func (r Record) Config() device.Config {
	return device.Config{EntityID: r.EntityID, Name: r.Name, Endpoint: r.Endpoint()}
}

// Validate checks the fields a record cannot be stored without.
func (r Record) Validate() error {
	var errs []error
	if strings.TrimSpace(r.EntityID) == "" {
		errs = append(errs, errors.New("entity_id is required"))
	}
	if strings.TrimSpace(r.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if r.Port < 0 || r.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}
	return errors.Join(errs...)
}

// File is the YAML document read from DEVICES_FILE and written by exports.
type File struct {
	Devices []Record `yaml:"devices"`
}
