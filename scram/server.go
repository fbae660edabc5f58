package scram

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

// DefaultIterations is the default server iteration count used when only a
// plaintext password is available from the credential lookup; RFC 5802
// recommends at least 4096.
const DefaultIterations = 4096

// ServerState is the server party's position in the SCRAM exchange.
type ServerState int

// Server states, in protocol order.
const (
	ServerInitial ServerState = iota
	ServerChallengeSent
	ServerFinalResponseReceived
	ServerCompleted
)

// Server is the server (responding) party of a SCRAM exchange.
type Server struct {
	mechanism Mechanism
	lookup    CredentialLookup

	state ServerState

	authzID     string
	username    string
	clientNonce string
	fullNonce   string
	gs2Header   string

	salt           []byte
	iterations     int
	saltedPassword []byte

	clientFirstBare         string
	serverFirstMessage      string
	clientFinalWithoutProof string
	expectedServerSignature []byte
	clientFinalAccepted     bool
	verificationFailed      bool

	completed bool
	err       *AuthenticationError

	negotiated map[string]interface{}
}

// NewServer constructs a Server for the given mechanism. lookup is
// consulted to obtain cached (salted-password, salt, iteration) or a
// plaintext password for the username presented by the client.
func NewServer(mechanism Mechanism, lookup CredentialLookup) *Server {
	return &Server{
		mechanism:  mechanism,
		lookup:     lookup,
		negotiated: make(map[string]interface{}),
	}
}

// IsCompleted reports whether the exchange has reached a terminal state.
func (s *Server) IsCompleted() bool { return s.completed }

// Error returns the last AuthenticationError recorded against this server,
// or nil.
func (s *Server) Error() *AuthenticationError { return s.err }

// NegotiatedProperties exposes (salt, salted-password, iteration) after a
// successful exchange.
func (s *Server) NegotiatedProperties() map[string]interface{} { return s.negotiated }

func (s *Server) fail(cond Condition, msg string) error {
	s.err = newAuthError(cond, msg)
	s.verificationFailed = true
	return s.err
}

// AcceptResponse processes one client message: the client-first message in
// ServerInitial, or the client-final message in ServerChallengeSent.
func (s *Server) AcceptResponse(data []byte) error {
	switch {
	case s.state == ServerInitial:
		return s.acceptClientFirst(data)
	case s.state == ServerChallengeSent && !s.clientFinalAccepted:
		return s.acceptClientFinal(data)
	default:
		return fmt.Errorf("scram: AcceptResponse called out of sequence in state %d", s.state)
	}
}

func (s *Server) acceptClientFirst(data []byte) error {
	msg := string(data)
	decoded, err := DecodeMessage(msg)
	if err != nil {
		return s.fail(MalformedRequest, err.Error())
	}
	if decoded.GS2Header == "" {
		return s.fail(MalformedRequest, "missing gs2 header")
	}
	// gs2Header is "<cbind-flag>,<authzid>,"; we only support cbind-flag "n".
	parts := strings.SplitN(decoded.GS2Header, ",", 3)
	if len(parts) < 2 || parts[0] != "n" {
		return s.fail(MalformedRequest, "unsupported or missing channel-binding flag")
	}
	if parts[1] != "" {
		if !strings.HasPrefix(parts[1], "a=") {
			return s.fail(MalformedRequest, "malformed authzid field")
		}
		s.authzID = strings.TrimPrefix(parts[1], "a=")
	}
	s.gs2Header = decoded.GS2Header

	for _, key := range decoded.Order {
		if key == "m" {
			return s.fail(ExtensionNotSupported, "unrecognized mandatory extension m=")
		}
	}

	escapedUsername, ok := decoded.Keys["n"]
	if !ok || escapedUsername == "" {
		return s.fail(MalformedRequest, "missing or empty username")
	}
	username, err := UnescapeUsername(escapedUsername)
	if err != nil {
		return s.fail(MalformedRequest, err.Error())
	}
	s.username = username

	clientNonce, ok := decoded.Keys["r"]
	if !ok || clientNonce == "" {
		return s.fail(MalformedRequest, "missing client nonce")
	}
	s.clientNonce = clientNonce

	// client-first-message-bare is everything after the gs2 header.
	s.clientFirstBare = strings.TrimPrefix(msg, decoded.GS2Header)

	return nil
}

// Challenge produces the server's next outgoing message: the server-first
// challenge once a client-first message has validated, or the server-final
// message (success or failure) once the client-final message has been
// processed.
func (s *Server) Challenge() ([]byte, error) {
	switch {
	case s.state == ServerInitial:
		return s.challengeFirst()
	case s.state == ServerChallengeSent && (s.clientFinalAccepted || s.verificationFailed):
		return s.challengeFinal()
	default:
		return nil, fmt.Errorf("scram: Challenge called out of sequence in state %d", s.state)
	}
}

func (s *Server) challengeFirst() ([]byte, error) {
	if s.clientFirstBare == "" && s.clientNonce == "" {
		return nil, fmt.Errorf("scram: Challenge called before a valid client-first message was accepted")
	}

	if err := s.resolveCredentials(); err != nil {
		return nil, s.fail(OtherError, err.Error())
	}

	var serverNonceBytes [12]byte
	if _, err := rand.Read(serverNonceBytes[:]); err != nil {
		return nil, err
	}
	s.fullNonce = s.clientNonce + base64.StdEncoding.EncodeToString(serverNonceBytes[:])

	s.serverFirstMessage = ServerFirst(s.fullNonce, s.salt, s.iterations)
	s.state = ServerChallengeSent
	return []byte(s.serverFirstMessage), nil
}

func (s *Server) resolveCredentials() error {
	if v, ok := s.lookupValue(CredentialSaltedPassword); ok {
		sp, spOK := v.([]byte)
		saltV, saltOK := s.lookupValue(CredentialSalt)
		salt, saltBytesOK := saltV.([]byte)
		iterV, iterOK := s.lookupValue(CredentialIteration)
		iterations, iterIntOK := iterV.(int)
		if spOK && saltOK && saltBytesOK && iterOK && iterIntOK {
			s.saltedPassword = sp
			s.salt = salt
			s.iterations = iterations
			return nil
		}
	}

	v, ok := s.lookupValue(CredentialPassword)
	password, passwordOK := v.(string)
	if !ok || !passwordOK {
		return fmt.Errorf("scram: no salted-password or password available from credential lookup for %q", s.username)
	}

	var saltBytes [8]byte
	if _, err := rand.Read(saltBytes[:]); err != nil {
		return err
	}
	s.salt = saltBytes[:]
	s.iterations = DefaultIterations
	s.saltedPassword = s.mechanism.SaltedPassword(password, s.salt, s.iterations)
	return nil
}

func (s *Server) lookupValue(key CredentialKey) (interface{}, bool) {
	if s.lookup == nil {
		return nil, false
	}
	return s.lookup(s.username, s.mechanism, key)
}

func (s *Server) acceptClientFinal(data []byte) error {
	msg := string(data)
	decoded, err := DecodeMessage(msg)
	if err != nil {
		return s.fail(MalformedRequest, err.Error())
	}

	c, ok := decoded.Keys["c"]
	if !ok {
		return s.fail(MalformedRequest, "client-final message missing channel binding field")
	}
	expectedC := base64.StdEncoding.EncodeToString([]byte(s.gs2Header))
	if c != expectedC {
		return s.fail(ChannelBindingsDirty, "channel-binding field does not match gs2 header")
	}

	r, ok := decoded.Keys["r"]
	if !ok || r != s.fullNonce {
		return s.fail(ServerNonceMismatch, "nonce does not match full nonce")
	}

	p, ok := decoded.Keys["p"]
	if !ok {
		return s.fail(MalformedRequest, "client-final message missing proof")
	}
	clientProof, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return s.fail(MalformedRequest, "invalid base64 client proof")
	}

	// client-final-message-without-proof is everything up to ",p=".
	idx := strings.LastIndex(msg, ",p=")
	if idx < 0 {
		return s.fail(MalformedRequest, "malformed client-final message")
	}
	s.clientFinalWithoutProof = msg[:idx]
	authMessage := AuthMessage(s.clientFirstBare, s.serverFirstMessage, s.clientFinalWithoutProof)

	clientKey := s.mechanism.ClientKey(s.saltedPassword)
	storedKey := s.mechanism.StoredKey(clientKey)
	clientSignature := s.mechanism.ClientSignature(storedKey, []byte(authMessage))
	expectedClientKey := XORProof(clientProof, clientSignature)

	if !hmac.Equal(expectedClientKey, clientKey) {
		return s.fail(InvalidProof, "client proof does not verify")
	}

	serverKey := s.mechanism.ServerKey(s.saltedPassword)
	s.expectedServerSignature = s.mechanism.ServerSignature(serverKey, []byte(authMessage))

	s.clientFinalAccepted = true

	s.negotiated[string(CredentialSaltedPassword)] = s.saltedPassword
	s.negotiated[string(CredentialSalt)] = s.salt
	s.negotiated[string(CredentialIteration)] = s.iterations

	return nil
}

func (s *Server) challengeFinal() ([]byte, error) {
	if s.verificationFailed {
		s.state = ServerCompleted
		s.completed = true
		return []byte("e=" + string(s.err.Condition)), nil
	}
	if !s.clientFinalAccepted {
		return nil, fmt.Errorf("scram: Challenge(final) called before client-final was accepted")
	}
	s.state = ServerCompleted
	s.completed = true
	return []byte("v=" + base64.StdEncoding.EncodeToString(s.expectedServerSignature)), nil
}
