/*
Copyright 2026 Adevinta
*/

package aikido

import (
	"encoding/json"
	"fmt"
)

// Severities assigned by Aikido to issue groups and issues.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// ID identifies an Aikido entity. The API returns numeric ids, but string
// ids are accepted too.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", b, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// Repository is a code repository connected to Aikido.
type Repository struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// IssueGroup is a deduplicated cluster of one or more findings.
type IssueGroup struct {
	ID          ID     `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
}

// Issue is a single finding that belongs to exactly one issue group.
type Issue struct {
	ID              ID     `json:"id"`
	GroupID         ID     `json:"group_id"`
	Type            string `json:"type"`
	Severity        string `json:"severity"`
	Status          string `json:"status"`
	AffectedPackage string `json:"affected_package"`
	AffectedFile    string `json:"affected_file"`
	AttackSurface   string `json:"attack_surface"`
	CVEID           string `json:"cve_id"`
}
