// Package language picks the response language of a query.
package language

import (
	"github.com/abadojack/whatlanggo"

	"github.com/legal-rag/backend/internal/storage/models"
)

type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect classifies text as Azerbaijani or English. Anything the detector
// does not identify as Azerbaijani, including undetermined input, is English.
func (d *Detector) Detect(text string) models.Language {
	info := whatlanggo.Detect(text)
	return fromCode(info.Lang.Iso6393())
}

func fromCode(iso6393 string) models.Language {
	if iso6393 == "azj" || iso6393 == "aze" {
		return models.LanguageAzerbaijani
	}
	return models.LanguageEnglish
}

// Name is the language directive inlined into the system prompt.
func Name(lang models.Language) string {
	if lang == models.LanguageAzerbaijani {
		return "Azerbaijani"
	}
	return "English"
}

// NoAnswerPhrase is the localized fallback the model must emit when the
// retrieved data does not answer the question.
func NoAnswerPhrase(lang models.Language) string {
	if lang == models.LanguageAzerbaijani {
		return "Zəhmət olmasa, peşəkarla əlaqə saxlayın"
	}
	return "Please contact a professional"
}
