package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/zaebos/cryptochat/pkg/database"
	"github.com/zaebos/cryptochat/pkg/email"
)

// MaxTokens caps an account's rotating-token list; the oldest token is
// evicted first.
const MaxTokens = 10

const (
	pbkdf2Iterations = 4096
	saltSize         = 16
	hashSize         = 32
)

// AccountManager implements registration, login, email verification and the
// rotating-token lifecycle on top of the durable store.
type AccountManager struct {
	store  Store
	mailer email.Sender
}

// NewAccountManager wires the manager to its collaborators.
func NewAccountManager(store Store, mailer email.Sender) *AccountManager {
	return &AccountManager{store: store, mailer: mailer}
}

// NormalizeEmail lower-cases an email address.
func NormalizeEmail(addr string) string {
	return strings.ToLower(addr)
}

// NormalizeName capitalizes an account name: first rune upper, rest lower.
func NormalizeName(name string) string {
	if name == "" {
		return name
	}
	runes := []rune(strings.ToLower(name))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// hashPassword produces "saltHex:hashHex" with a fresh random salt.
func hashPassword(password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, hashSize, sha256.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(hash), nil
}

// verifyPassword recomputes the salted hash and compares byte-for-byte in
// constant time.
func verifyPassword(stored, password string) bool {
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, hashSize, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// mintToken returns a fresh rotating token: two concatenated UUIDv4
// strings, 72 characters of high-entropy opaque text.
func mintToken() string {
	return uuid.NewString() + uuid.NewString()
}

// newVerificationCode returns six random decimal digits.
func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// appendToken appends a token to the list, evicting the oldest entries
// beyond MaxTokens.
func appendToken(tokens []string, token string) []string {
	tokens = append(tokens, token)
	if len(tokens) > MaxTokens {
		tokens = tokens[len(tokens)-MaxTokens:]
	}
	return tokens
}

// RegisterResult reports which uniqueness checks passed.
type RegisterResult struct {
	Accepted       bool
	EmailAvailable bool
	NameAvailable  bool
	AccountID      int64
	Code           string
	Email          string
}

// Register creates a new unverified account if both the normalized name and
// email are unclaimed, then emails the verification code.
func (am *AccountManager) Register(emailAddr, name, password string) (*RegisterResult, error) {
	emailAddr = NormalizeEmail(emailAddr)
	name = NormalizeName(name)

	emailTaken, err := am.store.EmailExists(emailAddr)
	if err != nil {
		return nil, err
	}
	nameTaken, err := am.store.NameExists(name)
	if err != nil {
		return nil, err
	}

	res := &RegisterResult{
		EmailAvailable: !emailTaken,
		NameAvailable:  !nameTaken,
		Email:          emailAddr,
	}
	if emailTaken || nameTaken {
		return res, nil
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}

	id, err := am.store.CreateUser(name, emailAddr, hash, code)
	if err != nil {
		return nil, fmt.Errorf("failed to persist account: %w", err)
	}

	res.Accepted = true
	res.AccountID = id
	res.Code = code
	am.sendCode(emailAddr, code)
	return res, nil
}

// sendCode dispatches the verification mail; delivery is fire-and-forget.
func (am *AccountManager) sendCode(to, code string) {
	go func() {
		if err := am.mailer.Send(to, "Your cryptochat verification code", "Verification code: "+code); err != nil {
			errorLog.Printf("failed to deliver verification code to %s: %v", to, err)
		}
	}()
}

// LoginResult reports the outcome of a password or token login.
type LoginResult struct {
	Accepted          bool
	NeedsVerification bool
	Name              string
	Token             string
	AccountID         int64
	Email             string
}

// Login checks the password against the stored salted hash. When wantToken
// is set and the password matches, a fresh rotating token is appended to
// the account's list (oldest evicted beyond the cap) and returned.
// An account-not-found miss is a rejected login, not an error.
func (am *AccountManager) Login(emailAddr, password string, wantToken bool) (*LoginResult, error) {
	emailAddr = NormalizeEmail(emailAddr)

	user, err := am.store.GetUserByEmail(emailAddr)
	if errors.Is(err, database.ErrUserNotFound) {
		return &LoginResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	if !verifyPassword(user.PasswordHash, password) {
		return &LoginResult{}, nil
	}

	res := &LoginResult{
		Accepted:          true,
		NeedsVerification: user.VerificationCode != nil,
		Name:              user.Name,
		AccountID:         user.ID,
		Email:             user.Email,
	}

	if wantToken {
		token := mintToken()
		if err := am.store.UpdateTokens(user.ID, appendToken(user.Tokens, token)); err != nil {
			return nil, err
		}
		res.Token = token
	}

	if err := am.store.TouchLastOnline(user.ID); err != nil {
		errorLog.Printf("failed to record login activity for account %d: %v", user.ID, err)
	}
	return res, nil
}

// TokenLogin authenticates with a rotating token. A matched token is
// single-use: it is removed and a freshly minted replacement persisted in
// the same update. An unmatched token wipes the account's entire token
// list, so a suspected replay invalidates all auto-login capability.
func (am *AccountManager) TokenLogin(emailAddr, token string) (*LoginResult, error) {
	emailAddr = NormalizeEmail(emailAddr)

	user, err := am.store.GetUserByEmail(emailAddr)
	if errors.Is(err, database.ErrUserNotFound) {
		return &LoginResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, t := range user.Tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			idx = i
			break
		}
	}

	if idx < 0 {
		errorLog.Printf("unmatched token for account %d, revoking all tokens", user.ID)
		if err := am.store.UpdateTokens(user.ID, nil); err != nil {
			return nil, err
		}
		return &LoginResult{}, nil
	}

	rotated := make([]string, 0, len(user.Tokens))
	rotated = append(rotated, user.Tokens[:idx]...)
	rotated = append(rotated, user.Tokens[idx+1:]...)
	fresh := mintToken()
	rotated = appendToken(rotated, fresh)
	if err := am.store.UpdateTokens(user.ID, rotated); err != nil {
		return nil, err
	}

	if err := am.store.TouchLastOnline(user.ID); err != nil {
		errorLog.Printf("failed to record login activity for account %d: %v", user.ID, err)
	}

	return &LoginResult{
		Accepted:          true,
		NeedsVerification: user.VerificationCode != nil,
		Name:              user.Name,
		Token:             fresh,
		AccountID:         user.ID,
		Email:             user.Email,
	}, nil
}

// VerifyEmail compares a submitted code against the account's stored code
// and clears it on match, returning the verified account.
func (am *AccountManager) VerifyEmail(emailAddr, code string) (*database.User, bool, error) {
	user, err := am.store.GetUserByEmail(NormalizeEmail(emailAddr))
	if errors.Is(err, database.ErrUserNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if user.VerificationCode == nil || *user.VerificationCode != code {
		return nil, false, nil
	}
	if err := am.store.SetVerificationCode(user.ID, nil); err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// ReissueCode generates, stores and emails a fresh verification code.
// Allowed only while the account is still unverified.
func (am *AccountManager) ReissueCode(emailAddr string) (string, error) {
	user, err := am.store.GetUserByEmail(NormalizeEmail(emailAddr))
	if err != nil {
		return "", err
	}
	if user.VerificationCode == nil {
		return "", errors.New("account already verified")
	}
	code, err := newVerificationCode()
	if err != nil {
		return "", err
	}
	if err := am.store.SetVerificationCode(user.ID, &code); err != nil {
		return "", err
	}
	am.sendCode(user.Email, code)
	return code, nil
}

// IssueToken mints one additional rotating token for an already
// authenticated account without invalidating existing ones.
func (am *AccountManager) IssueToken(emailAddr string) (string, error) {
	user, err := am.store.GetUserByEmail(NormalizeEmail(emailAddr))
	if err != nil {
		return "", err
	}
	token := mintToken()
	if err := am.store.UpdateTokens(user.ID, appendToken(user.Tokens, token)); err != nil {
		return "", err
	}
	return token, nil
}

// RevokeToken removes one token from an account's list. Unknown tokens are
// ignored.
func (am *AccountManager) RevokeToken(emailAddr, token string) error {
	user, err := am.store.GetUserByEmail(NormalizeEmail(emailAddr))
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(user.Tokens))
	for _, t := range user.Tokens {
		if t != token {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(user.Tokens) {
		return nil
	}
	return am.store.UpdateTokens(user.ID, kept)
}
