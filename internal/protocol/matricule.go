package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Matricules are human-readable date-encoded identifiers:
// <PREFIX>-<YYYYMMDD>-<4 hex uppercase>. The generator does not guarantee
// uniqueness; the persistence layer enforces it and callers retry on a
// uniqueness violation.

const (
	PrefixPatient      = "PAT"
	PrefixPrescription = "PRX"
	PrefixOrder        = "ORD"
)

var (
	patientMatriculeRe      = regexp.MustCompile(`^PAT-\d{8}-[A-F0-9]{4}$`)
	prescriptionMatriculeRe = regexp.MustCompile(`^PRX-\d{8}-[A-F0-9]{4}$`)
	// Grouped orders may carry an 8-hex suffix to aggregate several
	// prescription identifiers. Display convention only.
	orderMatriculeRe = regexp.MustCompile(`^ORD-\d{8}-[A-F0-9]{4}([A-F0-9]{4})?$`)
)

func NewMatricule(prefix string) (string, error) {
	return newMatricule(prefix, 2)
}

func NewGroupedOrderMatricule() (string, error) {
	return newMatricule(PrefixOrder, 4)
}

func newMatricule(prefix string, randBytes int) (string, error) {
	switch prefix {
	case PrefixPatient, PrefixPrescription, PrefixOrder:
	default:
		return "", fmt.Errorf("matricule: unknown prefix %q", prefix)
	}
	buf := make([]byte, randBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("matricule: %w", err)
	}
	suffix := strings.ToUpper(hex.EncodeToString(buf))
	date := time.Now().UTC().Format("20060102")
	return prefix + "-" + date + "-" + suffix, nil
}

func ValidateMatricule(prefix, matricule string) bool {
	switch prefix {
	case PrefixPatient:
		return patientMatriculeRe.MatchString(matricule)
	case PrefixPrescription:
		return prescriptionMatriculeRe.MatchString(matricule)
	case PrefixOrder:
		return orderMatriculeRe.MatchString(matricule)
	}
	return false
}
