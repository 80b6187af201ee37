package domain

import "testing"

func TestNewAccountNumber(t *testing.T) {
	number := NewAccountNumber("EST")
	if len(number) != BankPrefixLength+20 {
		t.Fatalf("account number %q has length %d, want %d", number, len(number), BankPrefixLength+20)
	}
	if BankPrefix(number) != "EST" {
		t.Fatalf("prefix of %q = %q, want EST", number, BankPrefix(number))
	}
	if NewAccountNumber("EST") == number {
		t.Fatal("account numbers must be unique")
	}
}

func TestBankPrefixShortInput(t *testing.T) {
	if got := BankPrefix("AB"); got != "" {
		t.Fatalf("BankPrefix of short input = %q, want empty", got)
	}
	if got := BankPrefix(""); got != "" {
		t.Fatalf("BankPrefix of empty input = %q, want empty", got)
	}
}
