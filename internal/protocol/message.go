package protocol

import (
	"strings"
	"time"
)

const SchemaVersion = "2.1"

type classificationRule struct {
	label    string
	keywords []string
}

// First matching rule wins; matching is case-insensitive on the free-text
// title.
var classificationRules = []classificationRule{
	{label: "cardiology", keywords: []string{"cardio", "heart", "cardiac", "coeur"}},
	{label: "emergency", keywords: []string{"emergency", "urgent", "urgence", "trauma"}},
	{label: "vaccination", keywords: []string{"vaccin", "immuniz", "booster"}},
}

const classificationDefault = "general"

var symptomVocabulary = []string{
	"fever",
	"cough",
	"headache",
	"fatigue",
	"nausea",
	"vomiting",
	"dizziness",
	"chest pain",
	"shortness of breath",
	"palpitations",
	"rash",
	"sore throat",
}

// BuildAnchorMessage derives the enriched anchor payload from a record
// snapshot. Pure apart from the wall-clock timestamp; missing optional
// fields degrade to empty containers, never an error.
func BuildAnchorMessage(snapshot RecordSnapshot, contentHash string, now time.Time) AnchorMessage {
	return AnchorMessage{
		EntityType:     snapshot.EntityType,
		EntityID:       snapshot.EntityID,
		ContentHash:    contentHash,
		Classification: ClassifyTitle(snapshot.Title),
		Symptoms:       ExtractSymptoms(snapshot.Title + " " + snapshot.Description),
		Treatments:     ExtractTreatments(snapshot.Prescription),
		VitalSigns:     snapshot.VitalSigns,
		PatientID:      snapshot.PatientID,
		DoctorID:       snapshot.DoctorID,
		SchemaVersion:  SchemaVersion,
		Timestamp:      now.UTC().Format(time.RFC3339),
	}
}

func ClassifyTitle(title string) string {
	lowered := strings.ToLower(title)
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lowered, kw) {
				return rule.label
			}
		}
	}
	return classificationDefault
}

func ExtractSymptoms(text string) []string {
	lowered := strings.ToLower(text)
	found := make([]string, 0)
	for _, symptom := range symptomVocabulary {
		if strings.Contains(lowered, symptom) {
			found = append(found, symptom)
		}
	}
	return found
}

func ExtractTreatments(prescription string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(prescription, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
