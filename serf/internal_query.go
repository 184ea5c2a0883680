package serf

import (
	"encoding/base64"
	"strings"
)

// InternalQueryPrefix marks a query name as internal to Serf: handled
// locally and never forwarded to the configured EventCh.
const InternalQueryPrefix = "_serf_"

const (
	pingQuery       = "ping"
	conflictQuery   = "conflict"
	installKeyQuery = "install-key"
	useKeyQuery     = "use-key"
	removeKeyQuery  = "remove-key"
	listKeysQuery   = "list-keys"
)

// nodeKeyResponse is the payload of a reply to any of the keyring
// management queries.
type nodeKeyResponse struct {
	Result  bool
	Message string
	Keys    []string
}

func internalQueryName(name string) string {
	return InternalQueryPrefix + name
}

// handleInternalQuery dispatches a query already identified as internal
// by isInternalQuery, and is always invoked on its own goroutine since
// key operations touch disk.
func (s *Serf) handleInternalQuery(q *Query) {
	name := strings.TrimPrefix(q.Name, InternalQueryPrefix)
	switch name {
	case pingQuery:
		// No body: arriving here at all is the check; the query ack already sent.
	case conflictQuery:
		s.handleConflictQuery(q)
	case installKeyQuery:
		s.handleInstallKeyQuery(q)
	case useKeyQuery:
		s.handleUseKeyQuery(q)
	case removeKeyQuery:
		s.handleRemoveKeyQuery(q)
	case listKeysQuery:
		s.handleListKeysQuery(q)
	default:
		s.logger.Warn("unhandled internal query", "name", name)
	}
}

// handleConflictQuery answers a name-conflict resolution query: the
// payload is a node name, and the reply carries our view of that
// member, if any.
func (s *Serf) handleConflictQuery(q *Query) {
	node := string(q.Payload)
	if node == s.config.NodeName {
		return
	}

	s.memberLock.RLock()
	var out *Member
	if m, ok := s.members[node]; ok {
		mem := m.Member
		out = &mem
	}
	s.memberLock.RUnlock()

	buf, err := encodeMessage(messageConflictResponseType, out)
	if err != nil {
		s.logger.Error("failed to encode conflict query response", "error", err)
		return
	}
	if err := q.Respond(buf); err != nil {
		s.logger.Error("failed to respond to conflict query", "error", err)
	}
}

func (s *Serf) handleInstallKeyQuery(q *Query) {
	response := nodeKeyResponse{}
	keyring := s.config.MemberlistConfig.Keyring

	if !s.EncryptionEnabled() {
		response.Message = "No keyring to modify (encryption not enabled)"
	} else if err := keyring.AddKey(q.Payload); err != nil {
		response.Message = err.Error()
	} else if err := writeKeyringFile(s.config.KeyringFile, keyring); err != nil {
		response.Message = err.Error()
	} else {
		response.Result = true
	}

	s.respondKeyQuery(q, &response, messageKeyResponseType)
}

func (s *Serf) handleUseKeyQuery(q *Query) {
	response := nodeKeyResponse{}
	keyring := s.config.MemberlistConfig.Keyring

	if !s.EncryptionEnabled() {
		response.Message = "No keyring to modify (encryption not enabled)"
	} else if err := keyring.UseKey(q.Payload); err != nil {
		response.Message = err.Error()
	} else if err := writeKeyringFile(s.config.KeyringFile, keyring); err != nil {
		response.Message = err.Error()
	} else {
		response.Result = true
	}

	s.respondKeyQuery(q, &response, messageKeyResponseType)
}

func (s *Serf) handleRemoveKeyQuery(q *Query) {
	response := nodeKeyResponse{}
	keyring := s.config.MemberlistConfig.Keyring

	if !s.EncryptionEnabled() {
		response.Message = "No keyring to modify (encryption not enabled)"
	} else if err := keyring.RemoveKey(q.Payload); err != nil {
		response.Message = err.Error()
	} else if err := writeKeyringFile(s.config.KeyringFile, keyring); err != nil {
		response.Message = err.Error()
	} else {
		response.Result = true
	}

	s.respondKeyQuery(q, &response, messageKeyResponseType)
}

func (s *Serf) handleListKeysQuery(q *Query) {
	response := nodeKeyResponse{}
	keyring := s.config.MemberlistConfig.Keyring

	if !s.EncryptionEnabled() {
		response.Message = "Keyring is empty (encryption not enabled)"
	} else {
		for _, key := range keyring.GetKeys() {
			response.Keys = append(response.Keys, base64.StdEncoding.EncodeToString(key))
		}
		response.Result = true
	}

	s.respondKeyQuery(q, &response, messageKeyResponseType)
}

func (s *Serf) respondKeyQuery(q *Query, response *nodeKeyResponse, t messageType) {
	buf, err := encodeMessage(t, response)
	if err != nil {
		s.logger.Error("failed to encode key query response", "error", err)
		return
	}
	if err := q.Respond(buf); err != nil {
		s.logger.Error("failed to respond to key query", "error", err)
	}
}
