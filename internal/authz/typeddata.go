package authz

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature does not recover to the
// expected backend signer.
var ErrInvalidSignature = errors.New("invalid signature")

var (
	bookingTypeHash = crypto.Keccak256Hash([]byte(
		"BookingAuthorization(bytes32 bookingId,address customer,address provider,address inviter,uint256 amount,uint256 originalAmount,uint256 platformFeeRate,uint256 inviterFeeRate,uint256 expiry,uint256 nonce)",
	))
	cancellationTypeHash = crypto.Keccak256Hash([]byte(
		"CancellationAuthorization(bytes32 bookingId,uint256 customerAmount,uint256 providerAmount,uint256 platformAmount,uint256 inviterAmount,string reason,uint256 expiry,uint256 nonce)",
	))
)

// domainSeparator computes the EIP-712 domain separator. The domain address is
// the deployment identity of this escrow instance, so a signature produced for
// one environment can never replay in another.
func domainSeparator(chainID *big.Int, domainAddr common.Address) [32]byte {
	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	nameHash := crypto.Keccak256Hash([]byte("BookMe Escrow"))
	versionHash := crypto.Keccak256Hash([]byte("1"))

	// ABI-encode: (bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], domainAddr.Bytes()) // addr is right-aligned in its 32-byte slot

	return crypto.Keccak256Hash(encoded)
}

// HashBooking computes the typed-data digest of a booking authorization.
func HashBooking(a *BookingAuthorization, chainID *big.Int, domainAddr common.Address) [32]byte {
	// structHash = keccak256(typeHash || abi.encode(fields))
	encoded := make([]byte, 11*32)
	copy(encoded[0:32], bookingTypeHash[:])
	copy(encoded[32:64], a.BookingID[:])
	copy(encoded[76:96], a.Customer.Bytes())
	copy(encoded[108:128], a.Provider.Bytes())
	copy(encoded[140:160], a.Inviter.Bytes())
	a.Amount.FillBytes(encoded[160:192])
	a.OriginalAmount.FillBytes(encoded[192:224])
	new(big.Int).SetUint64(a.PlatformFeeRate).FillBytes(encoded[224:256])
	new(big.Int).SetUint64(a.InviterFeeRate).FillBytes(encoded[256:288])
	big.NewInt(a.Expiry).FillBytes(encoded[288:320])
	new(big.Int).SetUint64(a.Nonce).FillBytes(encoded[320:352])

	return digest(crypto.Keccak256Hash(encoded), chainID, domainAddr)
}

// HashCancellation computes the typed-data digest of a cancellation
// authorization. The reason string is hashed per EIP-712 dynamic-type rules.
func HashCancellation(a *CancellationAuthorization, chainID *big.Int, domainAddr common.Address) [32]byte {
	reasonHash := crypto.Keccak256Hash([]byte(a.Reason))

	encoded := make([]byte, 9*32)
	copy(encoded[0:32], cancellationTypeHash[:])
	copy(encoded[32:64], a.BookingID[:])
	a.CustomerAmount.FillBytes(encoded[64:96])
	a.ProviderAmount.FillBytes(encoded[96:128])
	a.PlatformAmount.FillBytes(encoded[128:160])
	a.InviterAmount.FillBytes(encoded[160:192])
	copy(encoded[192:224], reasonHash[:])
	big.NewInt(a.Expiry).FillBytes(encoded[224:256])
	new(big.Int).SetUint64(a.Nonce).FillBytes(encoded[256:288])

	return digest(crypto.Keccak256Hash(encoded), chainID, domainAddr)
}

// digest assembles the final keccak256(0x1901 || domainSeparator || structHash).
func digest(structHash common.Hash, chainID *big.Int, domainAddr common.Address) [32]byte {
	sep := domainSeparator(chainID, domainAddr)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// SignBooking signs a booking authorization with the backend key. Used by the
// trusted backend and by tests; the ledger only ever verifies.
func SignBooking(a *BookingAuthorization, privKey *ecdsa.PrivateKey, chainID *big.Int, domainAddr common.Address) ([]byte, error) {
	d := HashBooking(a, chainID, domainAddr)
	return sign(d, privKey)
}

// SignCancellation signs a cancellation authorization with the backend key.
func SignCancellation(a *CancellationAuthorization, privKey *ecdsa.PrivateKey, chainID *big.Int, domainAddr common.Address) ([]byte, error) {
	d := HashCancellation(a, chainID, domainAddr)
	return sign(d, privKey)
}

func sign(d [32]byte, privKey *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(d[:], privKey)
	if err != nil {
		return nil, err
	}
	// V as 27/28, matching wallet tooling
	sig[64] += 27
	return sig, nil
}

// fitsUint256 reports whether v can occupy one 32-byte ABI slot. FillBytes
// panics on values outside [0, 2^256), so every amount must pass this before
// hashing.
func fitsUint256(v *big.Int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= 256
}

// recoverSigner extracts the signing address from (digest, signature).
// sig must be 65 bytes (R || S || V), with V in {0,1} or {27,28}.
func recoverSigner(d [32]byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, errors.New("invalid signature length")
	}
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(d[:], sigCopy)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier checks authorization signatures against a fixed signing domain.
// It is stateless; the expected signer is passed per call because signer
// rotation is owned by admin control.
type Verifier struct {
	chainID    *big.Int
	domainAddr common.Address
}

func NewVerifier(chainID int64, domainAddr common.Address) *Verifier {
	return &Verifier{chainID: big.NewInt(chainID), domainAddr: domainAddr}
}

// VerifyBooking checks that sig over a recovers to expectedSigner. Amounts
// outside the uint256 range cannot have been signed under this scheme and are
// rejected without hashing.
func (v *Verifier) VerifyBooking(a *BookingAuthorization, sig []byte, expectedSigner common.Address) error {
	if !fitsUint256(a.Amount) || !fitsUint256(a.OriginalAmount) {
		return ErrInvalidSignature
	}
	recovered, err := recoverSigner(HashBooking(a, v.chainID, v.domainAddr), sig)
	if err != nil || recovered != expectedSigner {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyCancellation checks that sig over a recovers to expectedSigner.
func (v *Verifier) VerifyCancellation(a *CancellationAuthorization, sig []byte, expectedSigner common.Address) error {
	for _, amt := range []*big.Int{a.CustomerAmount, a.ProviderAmount, a.PlatformAmount, a.InviterAmount} {
		if !fitsUint256(amt) {
			return ErrInvalidSignature
		}
	}
	recovered, err := recoverSigner(HashCancellation(a, v.chainID, v.domainAddr), sig)
	if err != nil || recovered != expectedSigner {
		return ErrInvalidSignature
	}
	return nil
}
