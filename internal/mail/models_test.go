package mail

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "mailmodel/internal/model"
)

func newStore(t *testing.T) *m.Store {
	t.Helper()
	reg := m.NewRegistry(nil)
	require.NoError(t, Register(reg))
	require.NoError(t, reg.Resolve())
	return m.NewStore(reg)
}

func insert(t *testing.T, s *m.Store, model string, data m.Data) *m.Record {
	t.Helper()
	rec, err := s.Insert(model, data)
	require.NoError(t, err)
	return rec
}

func TestPersona_InsertIsIdempotent(t *testing.T) {
	s := newStore(t)
	partner := insert(t, s, Partner, m.Data{"id": 3, "name": "Ann"})

	first := insert(t, s, Persona, m.Data{"partner": partner})
	second := insert(t, s, Persona, m.Data{"partner": partner})

	assert.Same(t, first, second)
	assert.Equal(t, 1, s.Count(Persona))
	assert.Equal(t, "Ann", first.GetString("name"))
	assert.Equal(t, "offline", first.GetString("im_status"))

	guest := insert(t, s, Guest, m.Data{"id": 3, "name": "Visitor"})
	other := insert(t, s, Persona, m.Data{"guest": guest})
	assert.NotSame(t, first, other)
	assert.Equal(t, "Visitor", other.GetString("name"))

	_, err := s.Insert(Persona, m.Data{"partner": partner, "guest": guest})
	require.ErrorIs(t, err, m.ErrValidation)
}

func TestPersona_SecondOwnerRejected(t *testing.T) {
	s := newStore(t)
	partner := insert(t, s, Partner, m.Data{"id": 1, "name": "Ann"})
	guest := insert(t, s, Guest, m.Data{"id": 2, "name": "Visitor"})
	persona := insert(t, s, Persona, m.Data{"partner": partner})

	err := s.Update(guest, m.Data{"persona": persona})
	require.ErrorIs(t, err, m.ErrValidation)
	var ve *m.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, m.CodeAmbiguousIdentifying, ve.Code)

	assert.True(t, persona.IsSet("partner"))
	assert.False(t, persona.IsSet("guest"))
	assert.Nil(t, guest.One("persona"))
	owner, ok := persona.Owner()
	require.True(t, ok)
	assert.Same(t, partner, owner.Record)
	assert.Equal(t, "Ann", persona.GetString("name"))
}

func TestPersona_NameFollowsOwner(t *testing.T) {
	s := newStore(t)
	persona := insert(t, s, Persona, m.Data{"partner": m.Data{"id": 1, "name": "Ann"}})

	require.NoError(t, persona.One("partner").Update(m.Data{"name": "Anna"}))
	assert.Equal(t, "Anna", persona.GetString("name"))
	assert.LessOrEqual(t, s.Stats().LastPasses, s.Registry().LongestComputeChain())

	require.NoError(t, s.Delete(persona.One("partner")))
	assert.False(t, persona.Exists())
}

func channelWithMessage(t *testing.T, s *m.Store, canEdit bool) (*m.Record, *m.Record) {
	t.Helper()
	thread := insert(t, s, Thread, m.Data{"model": ChannelModel, "id": 1, "name": "general"})
	msg := insert(t, s, Message, m.Data{"id": 10, "body": "hello", "thread": thread, "canEdit": canEdit})
	return thread, msg
}

func TestMessageAction_SequenceByOwnerVariant(t *testing.T) {
	s := newStore(t)
	_, msg := channelWithMessage(t, s, true)
	assert.LessOrEqual(t, s.Stats().LastPasses, s.Registry().LongestComputeChain())

	list := msg.One("messageActionList")
	require.NotNil(t, list)
	edit := list.One("actionEdit")
	require.NotNil(t, edit)
	assert.EqualValues(t, 4, edit.GetInt("sequence"))
	assert.Equal(t, string(ActionEdit), edit.GetString("kind"))

	owner, ok := edit.Owner()
	require.True(t, ok)
	assert.Equal(t, "messageActionListOwnerAsEdit", owner.Field)
	assert.Same(t, list, owner.Record)
	assert.Same(t, list, edit.One("messageActionListOwner"))

	same := insert(t, s, MessageAction, m.Data{"messageActionListOwnerAsEdit": list})
	assert.Same(t, edit, same)

	var seq []int64
	for _, a := range SortedActions(list) {
		seq = append(seq, a.GetInt("sequence"))
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seq)
	assert.Equal(t, 5, list.Get("actionCount"))
}

func TestMessageAction_SlotsFollowPermissions(t *testing.T) {
	s := newStore(t)
	_, msg := channelWithMessage(t, s, true)
	list := msg.One("messageActionList")
	edit := list.One("actionEdit")

	require.NoError(t, msg.Update(m.Data{"canEdit": false}))
	assert.Nil(t, list.One("actionEdit"))
	assert.Nil(t, list.One("actionDelete"))
	assert.False(t, edit.Exists())
	assert.Equal(t, 3, s.Count(MessageAction))
	assert.Equal(t, 3, list.Get("actionCount"))

	require.NoError(t, msg.Update(m.Data{"canEdit": true}))
	assert.Equal(t, 5, s.Count(MessageAction))
	assert.EqualValues(t, 4, list.One("actionEdit").GetInt("sequence"))
}

func TestThread_DeleteCascades(t *testing.T) {
	s := newStore(t)
	thread, _ := channelWithMessage(t, s, true)
	insert(t, s, ChannelMember, m.Data{"thread": thread, "persona": m.Data{"partner": m.Data{"id": 1, "name": "Ann"}}})
	require.NotNil(t, thread.One("memberSearchInputView"))
	require.Equal(t, 1, thread.Get("memberCount"))

	require.NoError(t, thread.Delete())
	for _, model := range []string{Thread, Message, MessageActionList, MessageAction, ChannelMember, AutocompleteInputView} {
		assert.Equal(t, 0, s.Count(model), model)
	}
	assert.Equal(t, 1, s.Count(Persona))
	assert.Equal(t, 1, s.Count(Partner))
}

func TestThread_PostAndLastMessage(t *testing.T) {
	s := newStore(t)
	thread, first := channelWithMessage(t, s, false)
	assert.Same(t, first, thread.One("lastMessage"))

	res, err := thread.Call("post", m.Data{"id": 11, "body": "second"})
	require.NoError(t, err)
	second := res.(*m.Record)
	assert.Same(t, thread, second.One("thread"))
	assert.Same(t, second, thread.One("lastMessage"))

	require.NoError(t, second.Delete())
	assert.Same(t, first, thread.One("lastMessage"))

	_, err = first.Call("toggleStar")
	require.NoError(t, err)
	assert.True(t, first.GetBool("isStarred"))
}

func TestAutocomplete_MemberSuggestions(t *testing.T) {
	s := newStore(t)
	thread := insert(t, s, Thread, m.Data{"model": ChannelModel, "id": 7, "name": "dev"})
	ann := insert(t, s, ChannelMember, m.Data{"thread": thread, "persona": m.Data{"partner": m.Data{"id": 1, "name": "Ann"}}})
	bob := insert(t, s, ChannelMember, m.Data{"thread": thread, "persona": m.Data{"guest": m.Data{"id": 2, "name": "Bob"}}})

	view := thread.One("memberSearchInputView")
	require.NotNil(t, view)
	assert.Equal(t, "Search members", view.GetString("placeholder"))
	assert.ElementsMatch(t, []*m.Record{ann.One("persona"), bob.One("persona")}, view.Many("suggestions"))

	require.NoError(t, view.Update(m.Data{"query": "AN"}))
	assert.Equal(t, []*m.Record{ann.One("persona")}, view.Many("suggestions"))

	require.NoError(t, ann.One("persona").One("partner").Update(m.Data{"name": "Zed"}))
	assert.Empty(t, view.Many("suggestions"))

	require.NoError(t, bob.Delete())
	require.NoError(t, view.Update(m.Data{"query": ""}))
	assert.Equal(t, []*m.Record{ann.One("persona")}, view.Many("suggestions"))
}

func TestAutocomplete_InviteOwner(t *testing.T) {
	s := newStore(t)
	partner := insert(t, s, Partner, m.Data{"id": 5, "name": "Eve"})
	view := insert(t, s, AutocompleteInputView, m.Data{"partnerOwnerAsInvite": partner})

	assert.Equal(t, "Invite people", view.GetString("placeholder"))
	assert.False(t, view.IsSet("suggestions"))
	assert.Same(t, view, partner.One("inviteInputView"))

	// канал не личный - панели поиска участников нет
	thread := insert(t, s, Thread, m.Data{"model": "res.partner", "id": 5})
	assert.Nil(t, thread.One("memberSearchInputView"))
}
