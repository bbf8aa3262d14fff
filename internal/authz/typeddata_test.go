package authz

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testChainID    = big.NewInt(12345)
	testDomainAddr = common.HexToAddress("0xDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEfDeAdBeEf")
)

func newSignerKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func testBookingAuth() *BookingAuthorization {
	return &BookingAuthorization{
		BookingID:       common.HexToHash("0x01"),
		Customer:        common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Provider:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Inviter:         common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Amount:          big.NewInt(100),
		OriginalAmount:  big.NewInt(100),
		PlatformFeeRate: 1500,
		InviterFeeRate:  500,
		Expiry:          1_900_000_000,
		Nonce:           1,
	}
}

func testCancellationAuth() *CancellationAuthorization {
	return &CancellationAuthorization{
		BookingID:      common.HexToHash("0x01"),
		CustomerAmount: big.NewInt(90),
		ProviderAmount: big.NewInt(5),
		PlatformAmount: big.NewInt(3),
		InviterAmount:  big.NewInt(2),
		Reason:         "customer request",
		Expiry:         1_900_000_000,
		Nonce:          2,
	}
}

// ── Hashing ──────────────────────────────────────────────────────────────────

func TestHashBooking_Deterministic(t *testing.T) {
	h1 := HashBooking(testBookingAuth(), testChainID, testDomainAddr)
	h2 := HashBooking(testBookingAuth(), testChainID, testDomainAddr)
	if h1 != h2 {
		t.Fatal("HashBooking is not deterministic")
	}
}

func TestHashBooking_FieldSensitivity(t *testing.T) {
	base := HashBooking(testBookingAuth(), testChainID, testDomainAddr)

	a := testBookingAuth()
	a.Amount = big.NewInt(101)
	if HashBooking(a, testChainID, testDomainAddr) == base {
		t.Error("amount change should change the digest")
	}

	a = testBookingAuth()
	a.Nonce = 99
	if HashBooking(a, testChainID, testDomainAddr) == base {
		t.Error("nonce change should change the digest")
	}

	a = testBookingAuth()
	a.Inviter = common.Address{}
	if HashBooking(a, testChainID, testDomainAddr) == base {
		t.Error("inviter change should change the digest")
	}
}

func TestHashCancellation_ReasonSensitivity(t *testing.T) {
	h1 := HashCancellation(testCancellationAuth(), testChainID, testDomainAddr)
	a := testCancellationAuth()
	a.Reason = "provider no-show"
	h2 := HashCancellation(a, testChainID, testDomainAddr)
	if h1 == h2 {
		t.Fatal("different reasons should produce different digests")
	}
}

// ── Domain separation ────────────────────────────────────────────────────────

func TestDomainSeparator_Stable(t *testing.T) {
	s1 := domainSeparator(testChainID, testDomainAddr)
	s2 := domainSeparator(testChainID, testDomainAddr)
	if s1 != s2 {
		t.Fatal("domainSeparator is not stable")
	}
}

func TestHashBooking_DifferentChainID(t *testing.T) {
	h1 := HashBooking(testBookingAuth(), testChainID, testDomainAddr)
	h2 := HashBooking(testBookingAuth(), big.NewInt(1), testDomainAddr)
	if h1 == h2 {
		t.Fatal("different chain ids should produce different digests")
	}
}

func TestHashBooking_DifferentDomainAddr(t *testing.T) {
	other := common.HexToAddress("0x0000000000000000000000000000000000000001")
	h1 := HashBooking(testBookingAuth(), testChainID, testDomainAddr)
	h2 := HashBooking(testBookingAuth(), testChainID, other)
	if h1 == h2 {
		t.Fatal("different domain addresses should produce different digests")
	}
}

// ── Sign + Verify ────────────────────────────────────────────────────────────

func TestVerifyBooking_RoundTrip(t *testing.T) {
	key, signer := newSignerKey(t)
	a := testBookingAuth()

	sig, err := SignBooking(a, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatalf("SignBooking: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}

	v := NewVerifier(testChainID.Int64(), testDomainAddr)
	if err := v.VerifyBooking(a, sig, signer); err != nil {
		t.Errorf("VerifyBooking: %v", err)
	}
}

func TestVerifyCancellation_RoundTrip(t *testing.T) {
	key, signer := newSignerKey(t)
	a := testCancellationAuth()

	sig, err := SignCancellation(a, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatalf("SignCancellation: %v", err)
	}

	v := NewVerifier(testChainID.Int64(), testDomainAddr)
	if err := v.VerifyCancellation(a, sig, signer); err != nil {
		t.Errorf("VerifyCancellation: %v", err)
	}
}

func TestVerifyBooking_WrongSigner(t *testing.T) {
	key, _ := newSignerKey(t)
	_, other := newSignerKey(t)
	a := testBookingAuth()

	sig, err := SignBooking(a, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(testChainID.Int64(), testDomainAddr)
	if err := v.VerifyBooking(a, sig, other); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyBooking_TamperedAmount(t *testing.T) {
	key, signer := newSignerKey(t)
	a := testBookingAuth()

	sig, err := SignBooking(a, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatal(err)
	}

	a.Amount = big.NewInt(999_999)
	v := NewVerifier(testChainID.Int64(), testDomainAddr)
	if err := v.VerifyBooking(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered amount should fail verification, got %v", err)
	}
}

func TestVerifyBooking_WrongChain(t *testing.T) {
	key, signer := newSignerKey(t)
	a := testBookingAuth()

	sig, err := SignBooking(a, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatal(err)
	}

	v := NewVerifier(1, testDomainAddr)
	if err := v.VerifyBooking(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("signature should not verify on a different chain, got %v", err)
	}
}

func TestVerifyBooking_AmountOutOfRange(t *testing.T) {
	key, signer := newSignerKey(t)
	v := NewVerifier(testChainID.Int64(), testDomainAddr)

	good := testBookingAuth()
	sig, err := SignBooking(good, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatal(err)
	}

	a := testBookingAuth()
	a.Amount = new(big.Int).Lsh(big.NewInt(1), 300) // > 2^256-1
	if err := v.VerifyBooking(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("oversized amount: expected ErrInvalidSignature, got %v", err)
	}

	a = testBookingAuth()
	a.OriginalAmount = big.NewInt(-1)
	if err := v.VerifyBooking(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("negative original amount: expected ErrInvalidSignature, got %v", err)
	}

	a = testBookingAuth()
	a.Amount = nil
	if err := v.VerifyBooking(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("nil amount: expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyCancellation_AmountOutOfRange(t *testing.T) {
	key, signer := newSignerKey(t)
	v := NewVerifier(testChainID.Int64(), testDomainAddr)

	good := testCancellationAuth()
	sig, err := SignCancellation(good, key, testChainID, testDomainAddr)
	if err != nil {
		t.Fatal(err)
	}

	a := testCancellationAuth()
	a.ProviderAmount = new(big.Int).Lsh(big.NewInt(1), 257)
	if err := v.VerifyCancellation(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("oversized provider amount: expected ErrInvalidSignature, got %v", err)
	}

	a = testCancellationAuth()
	a.InviterAmount = nil
	if err := v.VerifyCancellation(a, sig, signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("nil inviter amount: expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyBooking_GarbageSignature(t *testing.T) {
	_, signer := newSignerKey(t)
	v := NewVerifier(testChainID.Int64(), testDomainAddr)

	if err := v.VerifyBooking(testBookingAuth(), []byte("short"), signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for short sig, got %v", err)
	}
	if err := v.VerifyBooking(testBookingAuth(), make([]byte, 65), signer); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for zero sig, got %v", err)
	}
}
