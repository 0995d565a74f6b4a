package core

import (
	"errors"
	"strings"
	"testing"
)

func TestNewPersonRequiresIdentifierOrFullName(t *testing.T) {
	if _, err := NewPerson("", "", nil, ValidExternalIdentifierTypes); err == nil {
		t.Fatal("expected validation error for empty person")
	}

	person, err := NewPerson("Marie", "Curie", nil, ValidExternalIdentifierTypes)
	if err != nil {
		t.Fatalf("full name without identifiers should be accepted: %v", err)
	}
	if person.Name != "Marie Curie" {
		t.Fatalf("unexpected display name %q", person.Name)
	}

	person, err = NewPerson("", "", []Identifier{{Type: "orcid", Value: "0000-0001-2345-6789"}}, ValidExternalIdentifierTypes)
	if err != nil {
		t.Fatalf("identifier without name should be accepted: %v", err)
	}
	if got := person.IdentifierValue("orcid"); got != "0000-0001-2345-6789" {
		t.Fatalf("unexpected orcid value %q", got)
	}
}

func TestNewPersonRejectsUnknownIdentifierType(t *testing.T) {
	_, err := NewPerson("Ada", "Lovelace", []Identifier{{Type: "viaf", Value: "12"}}, ValidExternalIdentifierTypes)
	if err == nil {
		t.Fatal("expected error for unknown identifier type")
	}
	var coded CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("expected coded error, got %T", err)
	}
	if coded.CodeValue() != CodeInvalidEntity {
		t.Fatalf("expected %s, got %s", CodeInvalidEntity, coded.CodeValue())
	}
}

func TestNewPersonRejectsBlankIdentifierValue(t *testing.T) {
	_, err := NewPerson("Ada", "Lovelace", []Identifier{{Type: "orcid", Value: "  "}}, ValidExternalIdentifierTypes)
	if err == nil {
		t.Fatal("expected error for blank identifier value")
	}
	if !strings.Contains(err.Error(), "orcid") {
		t.Fatalf("error should name the offending type: %v", err)
	}
}

func TestWithoutIdentifiers(t *testing.T) {
	person, err := NewPerson("Marie", "Curie", []Identifier{
		{Type: "orcid", Value: "0000-0001-2345-6789"},
		{Type: "idref", Value: "026123456"},
		{Type: "id_hal_s", Value: "marie-curie"},
	}, ValidExternalIdentifierTypes)
	if err != nil {
		t.Fatal(err)
	}

	trimmed := person.WithoutIdentifiers([]string{"idref", "id_hal_s"})
	if trimmed.HasIdentifier("idref") || trimmed.HasIdentifier("id_hal_s") {
		t.Fatal("nullified identifiers still present")
	}
	if !trimmed.HasIdentifier("orcid") {
		t.Fatal("unrelated identifier was dropped")
	}
	// Source entity stays intact.
	if !person.HasIdentifier("idref") {
		t.Fatal("WithoutIdentifiers mutated the receiver")
	}
}

func TestErrorCodeExtraction(t *testing.T) {
	base := Errorf(CodeTransientExternal, true, "upstream timeout on %s", "scopus")
	wrapped := WrapError(CodeUnexpected, false, base)

	// errors.As stops at the outermost classified error.
	if code := CodeOf(wrapped); code != CodeUnexpected {
		t.Fatalf("expected outermost code, got %s", code)
	}
	if IsRetryable(wrapped) {
		t.Fatal("outer wrap should mask retryability")
	}
	if !IsRetryable(base) {
		t.Fatal("transient error should be retryable")
	}
	if CodeOf(errors.New("plain")) != CodeUnexpected {
		t.Fatal("plain errors should classify as unexpected")
	}
}
