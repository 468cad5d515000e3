// Package mail описывает модели мессенджера поверх model: собеседники,
// треды, сообщения и панель действий над сообщением.
package mail

import (
	"sort"
	"strings"

	"go.uber.org/multierr"

	m "mailmodel/internal/model"
)

const (
	Partner               = "Partner"
	Guest                 = "Guest"
	Persona               = "Persona"
	Thread                = "Thread"
	ChannelMember         = "ChannelMember"
	Message               = "Message"
	MessageActionList     = "MessageActionList"
	MessageAction         = "MessageAction"
	AutocompleteInputView = "AutocompleteInputView"
)

// ChannelModel: значение Thread.model для каналов обсуждений.
const ChannelModel = "discuss.channel"

// Register добавляет все модели мессенджера в реестр.
func Register(reg *m.Registry) error {
	var errs error
	for _, def := range Definitions() {
		errs = multierr.Append(errs, reg.Register(def))
	}
	return errs
}

// Definitions возвращает описания моделей в порядке регистрации.
func Definitions() []m.Definition {
	return []m.Definition{
		partnerDef(),
		guestDef(),
		personaDef(),
		threadDef(),
		channelMemberDef(),
		messageDef(),
		messageActionListDef(),
		messageActionDef(),
		autocompleteInputViewDef(),
	}
}

func partnerDef() m.Definition {
	return m.Definition{
		Name:            Partner,
		IdentifyingMode: m.IdentifyAnd,
		FieldOrder:      []string{"id", "name", "email"},
		Fields: map[string]m.Field{
			"id":              m.Attr(m.Identifying(), m.OfType(m.TypeInt)),
			"name":            m.Attr(m.OfType(m.TypeString)),
			"email":           m.Attr(m.OfType(m.TypeString)),
			"persona":         m.One(Persona, m.Inverse("partner"), m.Causal()),
			"inviteInputView": m.One(AutocompleteInputView, m.Inverse("partnerOwnerAsInvite"), m.Causal()),
		},
	}
}

func guestDef() m.Definition {
	return m.Definition{
		Name:            Guest,
		IdentifyingMode: m.IdentifyAnd,
		FieldOrder:      []string{"id", "name"},
		Fields: map[string]m.Field{
			"id":      m.Attr(m.Identifying(), m.OfType(m.TypeInt)),
			"name":    m.Attr(m.OfType(m.TypeString)),
			"persona": m.One(Persona, m.Inverse("guest"), m.Causal()),
		},
	}
}

// Persona: общий вид собеседника: ровно один из partner / guest.
func personaDef() m.Definition {
	return m.Definition{
		Name:            Persona,
		IdentifyingMode: m.IdentifyXor,
		FieldOrder:      []string{"partner", "guest", "name", "im_status"},
		Fields: map[string]m.Field{
			"partner":          m.One(Partner, m.Identifying(), m.Inverse("persona")),
			"guest":            m.One(Guest, m.Identifying(), m.Inverse("persona")),
			"name":             m.Attr(m.Compute(personaName, m.OwnerDep, "partner.name", "guest.name")),
			"im_status":        m.Attr(m.Enum("online", "away", "offline"), m.Default("offline")),
			"channelMembers":   m.Many(ChannelMember, m.Inverse("persona")),
			"authoredMessages": m.Many(Message, m.Inverse("author")),
		},
	}
}

func personaName(r *m.Record) any {
	o, ok := r.Owner()
	if !ok || !o.Record.IsSet("name") {
		return m.Clear()
	}
	return o.Record.GetString("name")
}

func threadDef() m.Definition {
	return m.Definition{
		Name:            Thread,
		IdentifyingMode: m.IdentifyAnd,
		FieldOrder:      []string{"model", "id", "name"},
		Fields: map[string]m.Field{
			"model":    m.Attr(m.Identifying(), m.OfType(m.TypeString)),
			"id":       m.Attr(m.Identifying(), m.OfType(m.TypeInt)),
			"name":     m.Attr(m.OfType(m.TypeString)),
			"messages": m.Many(Message, m.Inverse("thread"), m.Causal()),
			"members":  m.Many(ChannelMember, m.Inverse("thread"), m.Causal()),
			"memberCount": m.Attr(m.Compute(func(r *m.Record) any {
				return len(r.Many("members"))
			}, "members")),
			"lastMessage": m.One(Message, m.Compute(lastMessage, "messages", "messages.id")),
			"isChannel": m.Attr(m.Compute(func(r *m.Record) any {
				return r.GetString("model") == ChannelModel
			}, "model")),
			"memberSearchInputView": m.One(AutocompleteInputView,
				m.Inverse("threadOwnerAsMemberSearch"), m.Causal(),
				m.Compute(func(r *m.Record) any {
					if !r.GetBool("isChannel") {
						return m.Clear()
					}
					return m.Data{}
				}, "isChannel")),
		},
		RecordMethods: map[string]m.RecordMethod{
			"post": postMessage,
		},
	}
}

func lastMessage(r *m.Record) any {
	var last *m.Record
	for _, msg := range r.Many("messages") {
		if last == nil || msg.GetInt("id") > last.GetInt("id") {
			last = msg
		}
	}
	if last == nil {
		return m.Clear()
	}
	return last
}

// postMessage: thread.Call("post", m.Data{...}) добавляет сообщение в тред.
func postMessage(r *m.Record, args ...any) (any, error) {
	var data m.Data
	if len(args) > 0 {
		data, _ = args[0].(m.Data)
	}
	payload := make(m.Data, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["thread"] = r
	return r.Store().Insert(Message, payload)
}

func channelMemberDef() m.Definition {
	return m.Definition{
		Name:            ChannelMember,
		IdentifyingMode: m.IdentifyAnd,
		Fields: map[string]m.Field{
			"thread":   m.One(Thread, m.Identifying(), m.Inverse("members")),
			"persona":  m.One(Persona, m.Identifying(), m.Inverse("channelMembers")),
			"isTyping": m.Attr(m.OfType(m.TypeBool), m.Default(false)),
		},
	}
}

func messageDef() m.Definition {
	return m.Definition{
		Name:            Message,
		IdentifyingMode: m.IdentifyAnd,
		FieldOrder:      []string{"id", "body", "thread", "author"},
		Fields: map[string]m.Field{
			"id":        m.Attr(m.Identifying(), m.OfType(m.TypeInt)),
			"body":      m.Attr(m.OfType(m.TypeString), m.Default("")),
			"thread":    m.One(Thread, m.Inverse("messages")),
			"author":    m.One(Persona, m.Inverse("authoredMessages")),
			"isStarred": m.Attr(m.OfType(m.TypeBool), m.Default(false)),
			"canReact":  m.Attr(m.OfType(m.TypeBool), m.Default(true)),
			"canEdit":   m.Attr(m.OfType(m.TypeBool), m.Default(false)),
			"authorName": m.Attr(m.Compute(func(r *m.Record) any {
				a := r.One("author")
				if a == nil || !a.IsSet("name") {
					return m.Clear()
				}
				return a.GetString("name")
			}, "author.name")),
			"isEmpty": m.Attr(m.Compute(func(r *m.Record) any {
				return strings.TrimSpace(r.GetString("body")) == ""
			}, "body")),
			"messageActionList": m.One(MessageActionList, m.Inverse("message"), m.Causal(),
				m.Compute(func(*m.Record) any { return m.Data{} })),
		},
		RecordMethods: map[string]m.RecordMethod{
			"toggleStar": func(r *m.Record, _ ...any) (any, error) {
				return nil, r.Update(m.Data{"isStarred": !r.GetBool("isStarred")})
			},
		},
	}
}

// actionWhen строит compute одного слота панели действий: слот занят
// MessageAction, пока cond истинно.
func actionWhen(cond func(msg *m.Record) bool) m.ComputeFunc {
	return func(r *m.Record) any {
		msg := r.One("message")
		if msg == nil || !cond(msg) {
			return m.Clear()
		}
		return m.Data{}
	}
}

func messageActionListDef() m.Definition {
	return m.Definition{
		Name:            MessageActionList,
		IdentifyingMode: m.IdentifyAnd,
		Fields: map[string]m.Field{
			"message": m.One(Message, m.Identifying(), m.Inverse("messageActionList")),
			"actionReaction": m.One(MessageAction, m.Inverse("messageActionListOwnerAsReaction"), m.Causal(),
				m.Compute(actionWhen(func(msg *m.Record) bool { return msg.GetBool("canReact") }), "message.canReact")),
			"actionStar": m.One(MessageAction, m.Inverse("messageActionListOwnerAsStar"), m.Causal(),
				m.Compute(actionWhen(func(msg *m.Record) bool { return msg.IsSet("thread") }), "message.thread")),
			"actionReply": m.One(MessageAction, m.Inverse("messageActionListOwnerAsReply"), m.Causal(),
				m.Compute(actionWhen(func(msg *m.Record) bool {
					t := msg.One("thread")
					return t != nil && t.GetBool("isChannel")
				}), "message.thread", "message.thread.isChannel")),
			"actionEdit": m.One(MessageAction, m.Inverse("messageActionListOwnerAsEdit"), m.Causal(),
				m.Compute(actionWhen(func(msg *m.Record) bool { return msg.GetBool("canEdit") }), "message.canEdit")),
			"actionDelete": m.One(MessageAction, m.Inverse("messageActionListOwnerAsDelete"), m.Causal(),
				m.Compute(actionWhen(func(msg *m.Record) bool { return msg.GetBool("canEdit") }), "message.canEdit")),
			"messageActions": m.Many(MessageAction, m.Inverse("messageActionListOwner")),
			"actionCount": m.Attr(m.Compute(func(r *m.Record) any {
				return len(r.Many("messageActions"))
			}, "messageActions")),
		},
		RecordMethods: map[string]m.RecordMethod{
			"sortedActions": func(r *m.Record, _ ...any) (any, error) {
				return SortedActions(r), nil
			},
		},
	}
}

// ActionKind: вариант владельца MessageAction.
type ActionKind string

const (
	ActionReaction ActionKind = "reaction"
	ActionStar     ActionKind = "star"
	ActionReply    ActionKind = "reply"
	ActionEdit     ActionKind = "edit"
	ActionDelete   ActionKind = "delete"
)

// actionOwners: identifying поле MessageAction -> вид действия и позиция в панели.
var actionOwners = map[string]struct {
	kind     ActionKind
	sequence int
}{
	"messageActionListOwnerAsReaction": {ActionReaction, 1},
	"messageActionListOwnerAsStar":     {ActionStar, 2},
	"messageActionListOwnerAsReply":    {ActionReply, 3},
	"messageActionListOwnerAsEdit":     {ActionEdit, 4},
	"messageActionListOwnerAsDelete":   {ActionDelete, 5},
}

// ownerVariant: выбор по активному варианту Owner вместо перебора полей.
func ownerVariant(r *m.Record) (ActionKind, int, bool) {
	o, ok := r.Owner()
	if !ok {
		return "", 0, false
	}
	v, ok := actionOwners[o.Field]
	return v.kind, v.sequence, ok
}

func messageActionDef() m.Definition {
	fields := map[string]m.Field{
		"messageActionListOwner": m.One(MessageActionList, m.Inverse("messageActions"),
			m.Compute(func(r *m.Record) any {
				o, ok := r.Owner()
				if !ok {
					return m.Clear()
				}
				return o.Record
			}, m.OwnerDep)),
		"kind": m.Attr(m.Compute(func(r *m.Record) any {
			kind, _, ok := ownerVariant(r)
			if !ok {
				return m.Clear()
			}
			return string(kind)
		}, m.OwnerDep)),
		"sequence": m.Attr(m.Compute(func(r *m.Record) any {
			_, seq, ok := ownerVariant(r)
			if !ok {
				return m.Clear()
			}
			return seq
		}, m.OwnerDep)),
	}
	slots := map[string]string{
		"messageActionListOwnerAsReaction": "actionReaction",
		"messageActionListOwnerAsStar":     "actionStar",
		"messageActionListOwnerAsReply":    "actionReply",
		"messageActionListOwnerAsEdit":     "actionEdit",
		"messageActionListOwnerAsDelete":   "actionDelete",
	}
	for owner, slot := range slots {
		fields[owner] = m.One(MessageActionList, m.Identifying(), m.Inverse(slot))
	}
	return m.Definition{
		Name:            MessageAction,
		IdentifyingMode: m.IdentifyXor,
		Fields:          fields,
	}
}

// SortedActions возвращает действия панели в порядке sequence.
func SortedActions(list *m.Record) []*m.Record {
	out := list.Many("messageActions")
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GetInt("sequence") < out[j].GetInt("sequence")
	})
	return out
}

func autocompleteInputViewDef() m.Definition {
	return m.Definition{
		Name:            AutocompleteInputView,
		IdentifyingMode: m.IdentifyXor,
		Fields: map[string]m.Field{
			"threadOwnerAsMemberSearch": m.One(Thread, m.Identifying(), m.Inverse("memberSearchInputView")),
			"partnerOwnerAsInvite":      m.One(Partner, m.Identifying(), m.Inverse("inviteInputView")),
			"query":                     m.Attr(m.OfType(m.TypeString), m.Default("")),
			"placeholder": m.Attr(m.Compute(func(r *m.Record) any {
				o, ok := r.Owner()
				if !ok {
					return m.Clear()
				}
				switch o.Field {
				case "threadOwnerAsMemberSearch":
					return "Search members"
				case "partnerOwnerAsInvite":
					return "Invite people"
				}
				return m.Clear()
			}, m.OwnerDep)),
			"suggestions": m.Many(Persona, m.Compute(memberSuggestions,
				m.OwnerDep, "query",
				"threadOwnerAsMemberSearch.members",
				"threadOwnerAsMemberSearch.members.persona.name")),
		},
	}
}

// memberSuggestions: участники треда, чьё имя содержит query (без учёта регистра).
func memberSuggestions(r *m.Record) any {
	thread := r.One("threadOwnerAsMemberSearch")
	if thread == nil {
		return m.Clear()
	}
	q := strings.ToLower(strings.TrimSpace(r.GetString("query")))
	var out []*m.Record
	for _, member := range thread.Many("members") {
		p := member.One("persona")
		if p == nil {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(p.GetString("name")), q) {
			out = append(out, p)
		}
	}
	return out
}
