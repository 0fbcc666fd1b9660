package auth

import (
	"testing"
	"time"
)

// ─── Password hashing (Argon2id, slow by construction) ───────────────

func BenchmarkHashPassword(b *testing.B) {
	for i := 0; i < b.N; i++ {
		HashPassword("correct-horse-battery-staple") //nolint:errcheck // benchmark
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	hash, err := HashPassword("correct-horse-battery-staple")
	if err != nil {
		b.Fatalf("HashPassword: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		VerifyPassword("correct-horse-battery-staple", hash) //nolint:errcheck // benchmark
	}
}

// ─── Access tokens (per-request hot path) ───────────────────────────

func BenchmarkSignAccess(b *testing.B) {
	s, err := NewSigner("benchmark-secret-key-32-bytes-xx", 15*time.Minute)
	if err != nil {
		b.Fatalf("NewSigner: %v", err)
	}
	identity := &Identity{ID: "id-bench", Email: "bench@x.com", RoleID: RoleAdmin}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.SignAccess(identity) //nolint:errcheck // benchmark
	}
}

func BenchmarkVerify(b *testing.B) {
	s, err := NewSigner("benchmark-secret-key-32-bytes-xx", 15*time.Minute)
	if err != nil {
		b.Fatalf("NewSigner: %v", err)
	}
	token, _, err := s.SignAccess(&Identity{ID: "id-bench", Email: "bench@x.com", RoleID: RoleAdmin})
	if err != nil {
		b.Fatalf("SignAccess: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Verify(token) //nolint:errcheck // benchmark
	}
}

func BenchmarkGenerateRenewalToken(b *testing.B) {
	for i := 0; i < b.N; i++ {
		GenerateRenewalToken() //nolint:errcheck // benchmark
	}
}
