package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// CredentialKey names a piece of cached authentication material a
// CredentialLookup may supply in place of the plaintext password.
type CredentialKey string

// Recognized credential keys.
const (
	CredentialPassword       CredentialKey = "password"
	CredentialSaltedPassword CredentialKey = "salted-password"
	CredentialSalt           CredentialKey = "salt"
	CredentialIteration      CredentialKey = "iteration"
)

// CredentialLookup retrieves cached or plaintext authentication material for
// authnID under the given mechanism. It returns ok=false if it has no
// opinion about key, in which case the caller falls back to the next
// source.
type CredentialLookup func(authnID string, mechanism Mechanism, key CredentialKey) (value interface{}, ok bool)

// ClientState is the client party's position in the SCRAM exchange.
type ClientState int

// Client states, in protocol order.
const (
	ClientInitial ClientState = iota
	ClientAwaitingChallenge
	ClientAwaitingFinal
	ClientCompleted
)

// Client is the client (initiating) party of a SCRAM exchange.
type Client struct {
	mechanism Mechanism
	authnID   string
	authzID   string
	lookup    CredentialLookup

	state               ClientState
	serverFirstAccepted bool

	clientNonce string
	fullNonce   string
	salt        []byte
	iterations  int

	clientFirstBare    string
	serverFirstMessage string
	gs2Header          string

	saltedPassword          []byte
	expectedServerSignature []byte

	completed bool
	err       *AuthenticationError

	negotiated map[string]interface{}
}

// NewClient constructs a Client for the given mechanism, authentication id,
// and optional authorization id. lookup is consulted in Respond before
// falling back to deriving the salted password from a plaintext password.
func NewClient(mechanism Mechanism, authnID, authzID string, lookup CredentialLookup) *Client {
	return &Client{
		mechanism:  mechanism,
		authnID:    authnID,
		authzID:    authzID,
		lookup:     lookup,
		negotiated: make(map[string]interface{}),
	}
}

// IsClientFirst reports that the client speaks first in SCRAM, per RFC 5802.
func (c *Client) IsClientFirst() bool { return true }

// IsCompleted reports whether the exchange has reached a terminal state,
// either by success or by error.
func (c *Client) IsCompleted() bool { return c.completed }

// Error returns the last AuthenticationError recorded against this client,
// or nil.
func (c *Client) Error() *AuthenticationError { return c.err }

// NegotiatedProperties exposes (salt, salted-password, iteration) after a
// successful exchange so the caller can cache credentials without retaining
// the plaintext password.
func (c *Client) NegotiatedProperties() map[string]interface{} { return c.negotiated }

func (c *Client) fail(cond Condition, msg string) error {
	c.err = newAuthError(cond, msg)
	c.completed = true
	return c.err
}

// Respond produces the client's next outgoing message: the client-first
// message when called in the initial state, or the client-final message
// once a valid server-first challenge has been accepted.
func (c *Client) Respond() ([]byte, error) {
	switch {
	case c.state == ClientInitial:
		return c.respondFirst()
	case c.state == ClientAwaitingChallenge && c.serverFirstAccepted:
		return c.respondFinal()
	default:
		return nil, fmt.Errorf("scram: Respond called out of sequence in state %d", c.state)
	}
}

func (c *Client) respondFirst() ([]byte, error) {
	var nonceBytes [12]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return nil, err
	}
	c.clientNonce = base64.StdEncoding.EncodeToString(nonceBytes[:])

	a := ""
	if c.authzID != "" {
		a = "a=" + c.authzID
	}
	c.gs2Header = "n," + a + ","
	c.clientFirstBare = ClientFirstBare(c.authnID, c.clientNonce)

	msg := []byte("n," + a + "," + c.clientFirstBare)
	c.state = ClientAwaitingChallenge
	return msg, nil
}

func (c *Client) respondFinal() ([]byte, error) {
	saltedPassword, err := c.resolveSaltedPassword()
	if err != nil {
		return nil, c.fail(OtherError, err.Error())
	}
	c.saltedPassword = saltedPassword

	clientFinalWithoutProof := ClientFinalWithoutProof(c.gs2Header, c.fullNonce)
	authMessage := AuthMessage(c.clientFirstBare, c.serverFirstMessage, clientFinalWithoutProof)

	clientKey := c.mechanism.ClientKey(saltedPassword)
	storedKey := c.mechanism.StoredKey(clientKey)
	clientSignature := c.mechanism.ClientSignature(storedKey, []byte(authMessage))
	proof := ClientProof(clientKey, clientSignature)

	serverKey := c.mechanism.ServerKey(saltedPassword)
	c.expectedServerSignature = c.mechanism.ServerSignature(serverKey, []byte(authMessage))

	msg := fmt.Sprintf("%s,p=%s", clientFinalWithoutProof, base64.StdEncoding.EncodeToString(proof))
	c.state = ClientAwaitingFinal
	return []byte(msg), nil
}

func (c *Client) resolveSaltedPassword() ([]byte, error) {
	if v, ok := c.lookupValue(CredentialSaltedPassword); ok {
		if sp, ok := v.([]byte); ok {
			return sp, nil
		}
	}
	if v, ok := c.lookupValue(CredentialPassword); ok {
		if password, ok := v.(string); ok {
			return c.mechanism.SaltedPassword(password, c.salt, c.iterations), nil
		}
	}
	return nil, fmt.Errorf("scram: no password or salted-password available from credential lookup")
}

func (c *Client) lookupValue(key CredentialKey) (interface{}, bool) {
	if c.lookup == nil {
		return nil, false
	}
	return c.lookup(c.authnID, c.mechanism, key)
}

// AcceptChallenge processes one server message (server-first or
// server-final) and returns an error if it is invalid or unauthorized.
func (c *Client) AcceptChallenge(data []byte) error {
	switch {
	case c.state == ClientAwaitingChallenge && !c.serverFirstAccepted:
		return c.acceptServerFirst(data)
	case c.state == ClientAwaitingFinal:
		return c.acceptServerFinal(data)
	default:
		return fmt.Errorf("scram: AcceptChallenge called out of sequence in state %d", c.state)
	}
}

func (c *Client) acceptServerFirst(data []byte) error {
	c.serverFirstMessage = string(data)
	decoded, err := DecodeMessage(c.serverFirstMessage)
	if err != nil {
		return c.fail(MalformedRequest, err.Error())
	}
	r, ok := decoded.Keys["r"]
	if !ok {
		return c.fail(MalformedRequest, "server-first message missing nonce")
	}
	if !strings.HasPrefix(r, c.clientNonce) {
		return c.fail(ServerNonceMismatch, "server nonce does not extend client nonce")
	}
	c.fullNonce = r

	s, ok := decoded.Keys["s"]
	if !ok {
		return c.fail(MalformedRequest, "server-first message missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return c.fail(MalformedRequest, "invalid base64 salt")
	}
	c.salt = salt

	i, ok := decoded.Keys["i"]
	if !ok {
		return c.fail(MalformedRequest, "server-first message missing iteration count")
	}
	iterations, err := ParseIterations(i)
	if err != nil {
		return c.fail(MalformedRequest, err.Error())
	}
	c.iterations = iterations

	c.serverFirstAccepted = true
	return nil
}

func (c *Client) acceptServerFinal(data []byte) error {
	decoded, err := DecodeMessage(string(data))
	if err != nil {
		return c.fail(MalformedRequest, err.Error())
	}
	if e, ok := decoded.Keys["e"]; ok {
		return c.fail(NotAuthorized, e)
	}
	v, ok := decoded.Keys["v"]
	if !ok {
		return c.fail(MalformedRequest, "server-final message missing signature")
	}
	serverSignature, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return c.fail(MalformedRequest, "invalid base64 server signature")
	}
	if !hmac.Equal(serverSignature, c.expectedServerSignature) {
		return c.fail(ServerSignatureWrong, "server signature does not match expected value")
	}

	c.negotiated[string(CredentialSaltedPassword)] = c.saltedPassword
	c.negotiated[string(CredentialSalt)] = c.salt
	c.negotiated[string(CredentialIteration)] = c.iterations

	c.state = ClientCompleted
	c.completed = true
	return nil
}
