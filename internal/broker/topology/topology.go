// Package topology defines the broker deployment shape for the forms event
// log: the three credential classes with their subject-prefix permission
// sets, and the rendered 3-node cluster configuration that enforces them.
package topology

import (
	"strings"

	"github.com/formworks/formworks/internal/broker"
	"github.com/formworks/formworks/internal/forms/domain"
)

// CredentialClass names one of the three account credential tiers.
type CredentialClass string

const (
	// ClassAdmin provisions streams and operates the cluster.
	ClassAdmin CredentialClass = "admin"
	// ClassProducer stages events: it can publish into the event subject
	// space and manage the event stream itself, nothing else.
	ClassProducer CredentialClass = "producer"
	// ClassConsumer reads events: it can drive a pull consumer and ack, but
	// can neither publish events nor touch stream definitions.
	ClassConsumer CredentialClass = "consumer"
)

// Classes returns every credential class.
func Classes() []CredentialClass {
	return []CredentialClass{ClassAdmin, ClassProducer, ClassConsumer}
}

// Permissions is one class's allowed subject spaces.
type Permissions struct {
	Publish   []string
	Subscribe []string
}

// ClassPermissions returns the permission set enforced for a class. The
// second return reports whether the class is known.
func ClassPermissions(class CredentialClass) (Permissions, bool) {
	stream := broker.StreamName
	switch class {
	case ClassAdmin:
		return Permissions{
			Publish:   []string{">"},
			Subscribe: []string{">"},
		}, true
	case ClassProducer:
		return Permissions{
			Publish: []string{
				domain.PublicSubjectPrefix + ">",
				domain.PrivateSubjectPrefix + ">",
				"$JS.API.STREAM.CREATE." + stream,
				"$JS.API.STREAM.UPDATE." + stream,
				"$JS.API.STREAM.INFO." + stream,
			},
			Subscribe: []string{"_INBOX.>"},
		}, true
	case ClassConsumer:
		return Permissions{
			Publish: []string{
				"$JS.API.CONSUMER.CREATE." + stream,
				"$JS.API.CONSUMER.DURABLE.CREATE." + stream + ".>",
				"$JS.API.CONSUMER.INFO." + stream + ".>",
				"$JS.API.CONSUMER.MSG.NEXT." + stream + ".>",
				"$JS.ACK." + stream + ".>",
			},
			Subscribe: []string{"_INBOX.>"},
		}, true
	default:
		return Permissions{}, false
	}
}

// CanPublish reports whether the permission set allows publishing to subject.
func (p Permissions) CanPublish(subject string) bool {
	return anyMatches(p.Publish, subject)
}

// CanSubscribe reports whether the permission set allows subscribing to
// subject.
func (p Permissions) CanSubscribe(subject string) bool {
	return anyMatches(p.Subscribe, subject)
}

func anyMatches(patterns []string, subject string) bool {
	for _, pattern := range patterns {
		if SubjectMatches(pattern, subject) {
			return true
		}
	}
	return false
}

// SubjectMatches reports whether a subject falls inside a pattern using the
// broker's wildcard rules: `*` matches exactly one token, `>` matches one or
// more trailing tokens.
func SubjectMatches(pattern, subject string) bool {
	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, token := range patternTokens {
		if token == ">" {
			return i < len(subjectTokens)
		}
		if i >= len(subjectTokens) {
			return false
		}
		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}
	return len(patternTokens) == len(subjectTokens)
}
