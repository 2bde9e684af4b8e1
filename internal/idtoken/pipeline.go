// Package idtoken builds, signs and optionally encrypts the JWT artifacts
// the provider emits: ID tokens, signed userinfo responses, and the parsing
// side of client request objects. Signing always happens before encryption.
package idtoken

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"oidcp/internal/grant"
	"oidcp/internal/oidc/models"
)

// Artifacts with per-client algorithm preferences.
const (
	ArtifactIDToken  = "id_token"
	ArtifactUserInfo = "userinfo"
)

// DefaultSigningAlg is used when a client registered no preference for its
// ID tokens.
const DefaultSigningAlg = "RS256"

// defaultEncryptionEnc is the content encryption used when a client asked
// for an encryption alg but no enc.
const defaultEncryptionEnc = jose.A128CBC_HS256

var requestObjectAlgs = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256,
}

// Pipeline holds the provider's signing identity plus the pairwise seed.
// It is safe for concurrent use.
type Pipeline struct {
	issuer string
	key    *rsa.PrivateKey
	keyID  string
	idTTL  time.Duration
	seed   []byte
}

func NewPipeline(issuer string, key *rsa.PrivateKey, keyID string, idTTL time.Duration, seed []byte) *Pipeline {
	return &Pipeline{
		issuer: issuer,
		key:    key,
		keyID:  keyID,
		idTTL:  idTTL,
		seed:   seed,
	}
}

// PublicJWKS exposes the provider's verification keys for the jwks_uri
// document.
func (p *Pipeline) PublicJWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &p.key.PublicKey,
		KeyID:     p.keyID,
		Use:       "sig",
		Algorithm: DefaultSigningAlg,
	}}}
}

// Subject maps an internal user id onto the subject the client sees. Public
// clients get the raw id; pairwise clients get a sector-scoped hash so two
// clients in different sectors cannot correlate the user.
func (p *Pipeline) Subject(userID string, reg *models.ClientRegistration) string {
	if reg == nil || reg.SubjectType != models.SubjectTypePairwise {
		return userID
	}
	return p.PairwiseSubject(reg.SectorID, userID)
}

// PairwiseSubject derives the sector-scoped subject identifier.
func (p *Pipeline) PairwiseSubject(sectorID, userID string) string {
	h := sha256.New()
	h.Write([]byte(sectorID))
	h.Write([]byte(userID))
	h.Write(p.seed)
	return hex.EncodeToString(h.Sum(nil))
}

// IssueIDToken builds the claim set for the grant, signs it with the
// client's preferred algorithm and encrypts the result when the client
// registered for encrypted ID tokens. Extra claims resolved from the
// request object's claims.id_token member are merged in; c_hash and at_hash
// are added for the artifacts issued alongside.
func (p *Pipeline) IssueIDToken(g *grant.Grant, reg *models.ClientRegistration, extra map[string]any, code, accessToken string, now time.Time) (string, error) {
	signAlg, _, _ := p.algsFor(reg, ArtifactIDToken)

	claims := map[string]any{
		"iss": p.issuer,
		"sub": g.Subject,
		"aud": []string{g.ClientID},
		"iat": now.Unix(),
		"exp": now.Add(p.idTTL).Unix(),
	}
	if g.Nonce != "" {
		claims["nonce"] = g.Nonce
	}
	if wantsAuthTime(g.OpenIDRequest) && !g.AuthTime.IsZero() {
		claims["auth_time"] = g.AuthTime.Unix()
	}
	if code != "" {
		claims["c_hash"] = halfHash(signAlg, code)
	}
	if accessToken != "" {
		claims["at_hash"] = halfHash(signAlg, accessToken)
	}
	for k, v := range extra {
		claims[k] = v
	}

	return p.SignAndMaybeEncrypt(claims, reg, ArtifactIDToken)
}

// SignAndMaybeEncrypt runs the full pipeline for one artifact.
func (p *Pipeline) SignAndMaybeEncrypt(claims map[string]any, reg *models.ClientRegistration, artifact string) (string, error) {
	signed, err := p.Sign(claims, reg, artifact)
	if err != nil {
		return "", err
	}
	_, encAlg, _ := p.algsFor(reg, artifact)
	if encAlg == "" {
		return signed, nil
	}
	return p.Encrypt(signed, reg, artifact)
}

// Sign serializes the claims as a JWS. HS* algorithms key off the client
// secret; everything else uses the provider's RSA key.
func (p *Pipeline) Sign(claims map[string]any, reg *models.ClientRegistration, artifact string) (string, error) {
	signAlg, _, _ := p.algsFor(reg, artifact)

	var signingKey any
	if strings.HasPrefix(signAlg, "HS") {
		if reg == nil || reg.ClientSecret == "" {
			return "", fmt.Errorf("client has no secret for %s signing", signAlg)
		}
		signingKey = []byte(reg.ClientSecret)
	} else {
		signingKey = jose.JSONWebKey{Key: p.key, KeyID: p.keyID}
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(signAlg), Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("could not build signer for %s: %w", signAlg, err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("could not encode claims: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("could not sign %s: %w", artifact, err)
	}
	return sig.CompactSerialize()
}

// Encrypt wraps an already signed token in a JWE addressed to the client.
// Asymmetric key algorithms use the client's registered public key;
// symmetric ones derive the CEK wrapping key from the client secret.
func (p *Pipeline) Encrypt(signed string, reg *models.ClientRegistration, artifact string) (string, error) {
	_, encAlg, encEnc := p.algsFor(reg, artifact)
	if encAlg == "" {
		return signed, nil
	}

	var key any
	if symmetricKeyAlg(encAlg) {
		if reg.ClientSecret == "" {
			return "", fmt.Errorf("client has no secret for %s key wrapping", encAlg)
		}
		key = derivedKey(reg.ClientSecret, keySize(encAlg, encEnc))
	} else {
		jwk := reg.EncryptionKey()
		if jwk == nil {
			return "", fmt.Errorf("client registered no encryption key for %s", encAlg)
		}
		key = jwk.Key
	}

	enc, err := jose.NewEncrypter(
		jose.ContentEncryption(encEnc),
		jose.Recipient{Algorithm: jose.KeyAlgorithm(encAlg), Key: key},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("could not build encrypter for %s/%s: %w", encAlg, encEnc, err)
	}
	obj, err := enc.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("could not encrypt %s: %w", artifact, err)
	}
	return obj.CompactSerialize()
}

// ParseRequestObject verifies and decodes an embedded request object. HS*
// objects verify against the client secret; asymmetric ones against the
// client's registered JWKS. A registered request_object_signing_alg pins
// the algorithm the object must carry.
func (p *Pipeline) ParseRequestObject(raw string, reg *models.ClientRegistration) (*models.OpenIDRequest, error) {
	tok, err := jwt.ParseSigned(raw, requestObjectAlgs)
	if err != nil {
		return nil, fmt.Errorf("could not parse request object: %w", err)
	}
	if len(tok.Headers) == 0 {
		return nil, fmt.Errorf("request object has no signature header")
	}
	alg := tok.Headers[0].Algorithm
	if reg != nil && reg.RequestObjectSigningAlg != "" && alg != reg.RequestObjectSigningAlg {
		return nil, fmt.Errorf("request object signed with %s, client registered %s", alg, reg.RequestObjectSigningAlg)
	}

	var key any
	switch {
	case strings.HasPrefix(alg, "HS"):
		if reg == nil || reg.ClientSecret == "" {
			return nil, fmt.Errorf("client has no secret to verify %s request object", alg)
		}
		key = []byte(reg.ClientSecret)
	default:
		jwk := verificationKey(reg, tok.Headers[0].KeyID)
		if jwk == nil {
			return nil, fmt.Errorf("client registered no key to verify %s request object", alg)
		}
		key = jwk.Key
	}

	var req models.OpenIDRequest
	if err := tok.Claims(key, &req); err != nil {
		return nil, fmt.Errorf("request object verification failed: %w", err)
	}
	return &req, nil
}

// algsFor resolves the (sign, encAlg, encEnc) triple for the artifact. ID
// tokens are always signed and default to RS256; userinfo responses stay
// unsigned JSON unless the client registered otherwise.
func (p *Pipeline) algsFor(reg *models.ClientRegistration, artifact string) (string, string, string) {
	var sign, encAlg, encEnc string
	if reg != nil {
		switch artifact {
		case ArtifactUserInfo:
			sign = reg.UserInfoSignedResponseAlg
			encAlg = reg.UserInfoEncryptedResponseAlg
			encEnc = reg.UserInfoEncryptedResponseEnc
		default:
			sign = reg.IDTokenSignedResponseAlg
			encAlg = reg.IDTokenEncryptedResponseAlg
			encEnc = reg.IDTokenEncryptedResponseEnc
		}
	}
	if artifact == ArtifactIDToken && sign == "" {
		sign = DefaultSigningAlg
	}
	if encAlg != "" && encEnc == "" {
		encEnc = string(defaultEncryptionEnc)
	}
	return sign, encAlg, encEnc
}

func wantsAuthTime(req *models.OpenIDRequest) bool {
	if req == nil {
		return false
	}
	if req.MaxAge > 0 {
		return true
	}
	if req.Claims == nil {
		return false
	}
	spec, ok := req.Claims.IDToken["auth_time"]
	return ok && spec != nil && spec.Essential
}

func verificationKey(reg *models.ClientRegistration, kid string) *jose.JSONWebKey {
	if reg == nil || reg.JWKS == nil {
		return nil
	}
	if kid != "" {
		for i := range reg.JWKS.Keys {
			if reg.JWKS.Keys[i].KeyID == kid {
				return &reg.JWKS.Keys[i]
			}
		}
		return nil
	}
	for i := range reg.JWKS.Keys {
		k := &reg.JWKS.Keys[i]
		if k.IsPublic() && k.Use != "enc" {
			return k
		}
	}
	return nil
}

func symmetricKeyAlg(alg string) bool {
	switch jose.KeyAlgorithm(alg) {
	case jose.DIRECT, jose.A128KW, jose.A192KW, jose.A256KW,
		jose.A128GCMKW, jose.A192GCMKW, jose.A256GCMKW:
		return true
	}
	return false
}

// keySize picks the wrapping key length in bytes for a symmetric JWE setup.
func keySize(alg, enc string) int {
	switch jose.KeyAlgorithm(alg) {
	case jose.A128KW, jose.A128GCMKW:
		return 16
	case jose.A192KW, jose.A192GCMKW:
		return 24
	case jose.A256KW, jose.A256GCMKW:
		return 32
	}
	// direct encryption keys match the content encryption
	switch jose.ContentEncryption(enc) {
	case jose.A128GCM:
		return 16
	case jose.A192GCM:
		return 24
	case jose.A128CBC_HS256, jose.A256GCM:
		return 32
	case jose.A192CBC_HS384:
		return 48
	case jose.A256CBC_HS512:
		return 64
	}
	return 32
}

// derivedKey stretches the client secret to the exact key length.
func derivedKey(secret string, size int) []byte {
	if size <= sha256.Size {
		sum := sha256.Sum256([]byte(secret))
		return sum[:size]
	}
	sum := sha512.Sum512([]byte(secret))
	return sum[:size]
}

// halfHash is the OIDC left-half hash used for at_hash and c_hash. The hash
// function tracks the signing algorithm's bit strength.
func halfHash(signAlg, value string) string {
	var h hash.Hash
	switch {
	case strings.HasSuffix(signAlg, "384"):
		h = sha512.New384()
	case strings.HasSuffix(signAlg, "512"):
		h = sha512.New()
	default:
		h = sha256.New()
	}
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
