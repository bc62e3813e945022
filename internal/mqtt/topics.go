package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the mirror's topic names under a common prefix:
//
//	<prefix>/driver/status
//	<prefix>/<entity_id>/state
//	<prefix>/<entity_id>/availability
//	<prefix>/<entity_id>/command
//	<prefix>/<entity_id>/command/result
type Topics struct {
	Prefix string
}

// DriverStatus carries the driver's own online/offline status and the LWT.
func (t Topics) DriverStatus() string {
	return fmt.Sprintf("%s/driver/status", t.Prefix)
}

func (t Topics) State(entityID string) string {
	return fmt.Sprintf("%s/%s/state", t.Prefix, entityID)
}

func (t Topics) Availability(entityID string) string {
	return fmt.Sprintf("%s/%s/availability", t.Prefix, entityID)
}

func (t Topics) Command(entityID string) string {
	return fmt.Sprintf("%s/%s/command", t.Prefix, entityID)
}

// AllCommands matches the command topic of every entity.
func (t Topics) AllCommands() string {
	return t.Command("+")
}

func (t Topics) CommandResult(entityID string) string {
	return fmt.Sprintf("%s/%s/command/result", t.Prefix, entityID)
}

// ParseCommand extracts the entity id from a command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	entityID, ok := strings.CutSuffix(rest, "/command")
	if !ok || entityID == "" || strings.Contains(entityID, "/") {
		return "", false
	}
	return entityID, true
}
