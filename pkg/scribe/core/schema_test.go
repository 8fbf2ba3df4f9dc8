package core

import "testing"

func Test_SchemaCache_RegisterThenFetch(t *testing.T) {
	c := NewSchemaCache()
	id := itemID(1, mustPeerID(t))
	schema := []byte("field:string")

	if !c.RegisterSchema(id, schema) {
		t.Fatalf("expected first registration to succeed")
	}

	got, ok := c.SchemaByID(id)
	if !ok || string(got) != string(schema) {
		t.Fatalf("expected fetched schema to match registered bytes")
	}
}

func Test_SchemaCache_RejectsConflictingRedeclaration(t *testing.T) {
	c := NewSchemaCache()
	id := itemID(1, mustPeerID(t))

	c.RegisterSchema(id, []byte("v1"))
	if c.RegisterSchema(id, []byte("v2")) {
		t.Fatalf("expected conflicting redeclaration to be rejected")
	}
}

func Test_SchemaCache_IdenticalRedeclarationIsHarmless(t *testing.T) {
	c := NewSchemaCache()
	id := itemID(1, mustPeerID(t))

	c.RegisterSchema(id, []byte("v1"))
	if !c.RegisterSchema(id, []byte("v1")) {
		t.Fatalf("expected identical re-registration to succeed")
	}
}
