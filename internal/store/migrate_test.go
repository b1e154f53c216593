package store

import "testing"

func TestLoadMigrations_Contiguous(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	for i, m := range migrations {
		if m.index != i {
			t.Fatalf("migration %d out of order: got index %d", i, m.index)
		}
		if m.sql == "" {
			t.Fatalf("migration v%d has empty body", m.index)
		}
	}
}

func TestLoadMigrations_BackfillsWired(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	var sawReprocess, sawReencode bool
	for _, m := range migrations {
		if m.index == 2 {
			sawReprocess = m.backfill != nil
		}
		if m.index == 6 {
			sawReencode = m.backfill != nil
		}
	}
	if !sawReprocess {
		t.Error("expected migration v2 to carry the reprocess-all-sessions backfill")
	}
	if !sawReencode {
		t.Error("expected migration v6 to carry the config-re-serialisation backfill")
	}
}

func TestMsatPtrAndHashPtr_Nil(t *testing.T) {
	if got := msatPtr(nil); got != nil {
		t.Errorf("msatPtr(nil) = %v, want nil", got)
	}
	if got := hashPtr(nil); got != nil {
		t.Errorf("hashPtr(nil) = %v, want nil", got)
	}
}

func TestNullableString(t *testing.T) {
	if got := nullableString(""); got != nil {
		t.Errorf("nullableString(\"\") = %v, want nil", got)
	}
	if got := nullableString("x"); got != "x" {
		t.Errorf("nullableString(\"x\") = %v, want \"x\"", got)
	}
}
