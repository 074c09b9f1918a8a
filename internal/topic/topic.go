// Package topic recognizes request/reply topic pairs by naming convention and
// derives one side of a service from the other.
//
// A service is carried by two topics. With the default convention the request
// side is named "rq/<Service>Request" with data type "<Service>Request", and
// the reply side "rr/<Service>Reply" with data type "<Service>Response":
//
//	rq/EchoRequest  EchoRequest   <->  rr/EchoReply  EchoResponse
//
// All functions are pure. Non-matching input is reported as false or returned
// unchanged, never as an error.
package topic

import "strings"

// Topic identifies a stream of samples by name and data type.
type Topic struct {
	Name  string
	Type  string
	Keyed bool
}

// New returns an unkeyed topic.
func New(name, typeName string) Topic {
	return Topic{Name: name, Type: typeName}
}

// Valid reports whether both the name and the type are set.
func (t Topic) Valid() bool {
	return t.Name != "" && t.Type != ""
}

func (t Topic) String() string {
	return "Topic{" + t.Name + ";" + t.Type + "}"
}

// Convention holds the tokens that mark service topics.
type Convention struct {
	RequestPrefix string
	ReplyPrefix   string
	Request       string
	Reply         string
	Response      string
}

// DefaultConvention is the naming used by ROS 2 style services.
var DefaultConvention = Convention{
	RequestPrefix: "rq/",
	ReplyPrefix:   "rr/",
	Request:       "Request",
	Reply:         "Reply",
	Response:      "Response",
}

// IsRequest reports whether t is the request side of a service.
func (c Convention) IsRequest(t Topic) bool {
	return hasAffixes(t.Name, c.RequestPrefix, c.Request) &&
		strings.HasSuffix(t.Type, c.Request)
}

// IsReply reports whether t is the reply side of a service.
func (c Convention) IsReply(t Topic) bool {
	return hasAffixes(t.Name, c.ReplyPrefix, c.Reply) &&
		strings.HasSuffix(t.Type, c.Response)
}

// IsService reports whether t is either side of a service.
func (c Convention) IsService(t Topic) bool {
	return c.IsRequest(t) || c.IsReply(t)
}

// ReplyFromRequest derives the reply topic paired with request topic t.
// Topics that are not requests are returned unchanged.
func (c Convention) ReplyFromRequest(t Topic) Topic {
	if !c.IsRequest(t) {
		return t
	}
	out := t
	out.Name = c.ReplyPrefix + c.serviceFromName(t.Name, c.RequestPrefix, c.Request) + c.Reply
	out.Type = strings.TrimSuffix(t.Type, c.Request) + c.Response
	return out
}

// RequestFromReply derives the request topic paired with reply topic t.
// Topics that are not replies are returned unchanged.
func (c Convention) RequestFromReply(t Topic) Topic {
	if !c.IsReply(t) {
		return t
	}
	out := t
	out.Name = c.RequestPrefix + c.serviceFromName(t.Name, c.ReplyPrefix, c.Reply) + c.Request
	out.Type = strings.TrimSuffix(t.Type, c.Response) + c.Request
	return out
}

// ServiceName returns the identifier shared by both topics of a service, or
// "" when t is not a service topic.
func (c Convention) ServiceName(t Topic) string {
	switch {
	case c.IsRequest(t):
		return c.serviceFromName(t.Name, c.RequestPrefix, c.Request)
	case c.IsReply(t):
		return c.serviceFromName(t.Name, c.ReplyPrefix, c.Reply)
	default:
		return ""
	}
}

func (c Convention) serviceFromName(name, prefix, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
}

// hasAffixes requires the prefix and suffix not to overlap, so that the
// stripped service name is well defined.
func hasAffixes(name, prefix, suffix string) bool {
	return len(name) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(name, prefix) &&
		strings.HasSuffix(name, suffix)
}

// IsRequest uses DefaultConvention.
func IsRequest(t Topic) bool { return DefaultConvention.IsRequest(t) }

// IsReply uses DefaultConvention.
func IsReply(t Topic) bool { return DefaultConvention.IsReply(t) }

// IsService uses DefaultConvention.
func IsService(t Topic) bool { return DefaultConvention.IsService(t) }

// ReplyFromRequest uses DefaultConvention.
func ReplyFromRequest(t Topic) Topic { return DefaultConvention.ReplyFromRequest(t) }

// RequestFromReply uses DefaultConvention.
func RequestFromReply(t Topic) Topic { return DefaultConvention.RequestFromReply(t) }

// ServiceName uses DefaultConvention.
func ServiceName(t Topic) string { return DefaultConvention.ServiceName(t) }
