package relation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/relationd/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	alice = "alice"
	bob   = "bob"
	carol = "carol"
)

func newTestService(t *testing.T) (*Service, *memStore, *syncEmitter) {
	t.Helper()
	st := newMemStore()
	em := &syncEmitter{}
	return NewService(st, em, time.Second, zap.NewNop()), st, em
}

func act(t *testing.T, svc *Service, actor, target string, a Action) error {
	t.Helper()
	return svc.HandleAction(context.Background(), actor, target, string(a))
}

func requireOne(t *testing.T, st *memStore, a, b string) model.Relationship {
	t.Helper()
	rows := st.pair(a, b)
	require.Len(t, rows, 1)
	return rows[0]
}

// ---- validation ----

func TestHandleAction_Validation(t *testing.T) {
	svc, st, _ := newTestService(t)

	tests := []struct {
		name          string
		actor, target string
		action        string
		want          error
	}{
		{"no actor", "", bob, "request", ErrUnauthenticated},
		{"no target", alice, "", "request", ErrInvalidTarget},
		{"oversized target", alice, strings.Repeat("x", model.MaxUserIDLen+1), "request", ErrInvalidTarget},
		{"self", alice, alice, "block", ErrSelfTargetInvalid},
		{"unknown action", alice, bob, "unfriend", ErrInvalidAction},
		{"empty action", alice, bob, "", ErrInvalidAction},
		{"wrong case", alice, bob, "Request", ErrInvalidAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.HandleAction(context.Background(), tt.actor, tt.target, tt.action)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, st.pair(alice, bob))
}

func TestHandleAction_SelfCheckedBeforeAction(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.HandleAction(context.Background(), alice, alice, "bogus")
	assert.ErrorIs(t, err, ErrSelfTargetInvalid)
}

// ---- request ----

func TestRequest_CreatesPendingAndNotifiesTarget(t *testing.T) {
	svc, st, em := newTestService(t)

	require.NoError(t, act(t, svc, alice, bob, ActionRequest))

	row := requireOne(t, st, alice, bob)
	assert.Equal(t, alice, row.InitiatorID)
	assert.Equal(t, bob, row.RecipientID)
	assert.Equal(t, model.RelationPending, row.Status)

	notes := st.notes()
	require.Len(t, notes, 1)
	assert.Equal(t, bob, notes[0].UserID)
	assert.Equal(t, alice, notes[0].ActorID)
	assert.Equal(t, model.NotifyFriendRequest, notes[0].Kind)
	assert.Equal(t, []string{"insert_notification"}, em.names)
}

func TestRequest_WhilePending(t *testing.T) {
	svc, st, _ := newTestService(t)
	require.NoError(t, act(t, svc, alice, bob, ActionRequest))

	assert.ErrorIs(t, act(t, svc, alice, bob, ActionRequest), ErrAlreadyPending)
	// Counter-request is not merged.
	assert.ErrorIs(t, act(t, svc, bob, alice, ActionRequest), ErrAlreadyPending)

	row := requireOne(t, st, alice, bob)
	assert.Equal(t, alice, row.InitiatorID)
	assert.Len(t, st.notes(), 1)
}

func TestRequest_WhenAcceptedLeavesRowUnchanged(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.put(bob, alice, model.RelationAccepted)
	before := requireOne(t, st, alice, bob)

	assert.ErrorIs(t, act(t, svc, alice, bob, ActionRequest), ErrAlreadyFriends)
	assert.ErrorIs(t, act(t, svc, bob, alice, ActionRequest), ErrAlreadyFriends)

	assert.Equal(t, before, requireOne(t, st, alice, bob))
	assert.Zero(t, st.friends(alice))
	assert.Empty(t, st.notes())
}

func TestRequest_WhenBlockedEitherDirection(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.put(alice, bob, model.RelationBlocked)

	assert.ErrorIs(t, act(t, svc, alice, bob, ActionRequest), ErrRelationshipBlocked)
	assert.ErrorIs(t, act(t, svc, bob, alice, ActionRequest), ErrRelationshipBlocked)
	assert.Equal(t, model.RelationBlocked, requireOne(t, st, alice, bob).Status)
}

func TestRequest_DuplicateKeyRaceMapsToAlreadyPending(t *testing.T) {
	svc, st, em := newTestService(t)
	st.beforeInsert = func(s *memStore) { s.put(alice, bob, model.RelationPending) }

	err := act(t, svc, alice, bob, ActionRequest)
	assert.ErrorIs(t, err, ErrAlreadyPending)
	assert.Len(t, st.pair(alice, bob), 1)
	assert.Empty(t, em.names)
}

func TestRequest_CrossedRequestLosesToReverseRow(t *testing.T) {
	svc, st, em := newTestService(t)
	st.beforeInsert = func(s *memStore) { s.put(bob, alice, model.RelationPending) }

	assert.ErrorIs(t, act(t, svc, alice, bob, ActionRequest), ErrAlreadyPending)
	row := requireOne(t, st, alice, bob)
	assert.Equal(t, bob, row.InitiatorID)
	assert.Empty(t, em.names)
}

func TestRequest_InsertFailure(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.insertErr = errStoreDown

	err := act(t, svc, alice, bob, ActionRequest)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStoreDown)
	assert.Empty(t, st.notes())
}

// ---- accept ----

func TestAccept_ByRecipient(t *testing.T) {
	svc, st, _ := newTestService(t)
	require.NoError(t, act(t, svc, alice, bob, ActionRequest))

	require.NoError(t, act(t, svc, bob, alice, ActionAccept))

	row := requireOne(t, st, alice, bob)
	assert.Equal(t, model.RelationAccepted, row.Status)
	assert.Equal(t, alice, row.InitiatorID)
	assert.Equal(t, int64(1), st.friends(alice))
	assert.Equal(t, int64(1), st.friends(bob))

	notes := st.notes()
	require.Len(t, notes, 2)
	assert.Equal(t, alice, notes[1].UserID)
	assert.Equal(t, bob, notes[1].ActorID)
	assert.Equal(t, model.NotifyFriendAccepted, notes[1].Kind)
}

func TestAccept_ByInitiator(t *testing.T) {
	svc, st, _ := newTestService(t)
	require.NoError(t, act(t, svc, alice, bob, ActionRequest))

	assert.ErrorIs(t, act(t, svc, alice, bob, ActionAccept), ErrCannotAcceptOwnRequest)
	assert.Equal(t, model.RelationPending, requireOne(t, st, alice, bob).Status)
	assert.Zero(t, st.friends(alice))
}

func TestAccept_NoPendingRequest(t *testing.T) {
	for _, status := range []model.RelationStatus{"", model.RelationAccepted, model.RelationBlocked} {
		t.Run(fmt.Sprintf("state=%q", status), func(t *testing.T) {
			svc, st, _ := newTestService(t)
			if status != "" {
				st.put(alice, bob, status)
			}
			assert.ErrorIs(t, act(t, svc, bob, alice, ActionAccept), ErrNoPendingRequest)
			assert.Zero(t, st.friends(bob))
		})
	}
}

func TestAccept_LostUpdateMapsToConflict(t *testing.T) {
	svc, st, em := newTestService(t)
	st.put(alice, bob, model.RelationPending)
	st.staleUpdate = true

	assert.ErrorIs(t, act(t, svc, bob, alice, ActionAccept), ErrConflictingState)
	assert.Empty(t, em.names)
}

func TestAccept_SideEffectFailureDoesNotFailAction(t *testing.T) {
	svc, st, em := newTestService(t)
	st.put(alice, bob, model.RelationPending)
	st.counterErr = errStoreDown

	require.NoError(t, act(t, svc, bob, alice, ActionAccept))
	assert.Equal(t, model.RelationAccepted, requireOne(t, st, alice, bob).Status)
	assert.Len(t, em.errs, 2)
	assert.Len(t, st.notes(), 1)
}

func TestAccept_DroppedSideEffectsDoNotFailAction(t *testing.T) {
	svc, st, em := newTestService(t)
	st.put(alice, bob, model.RelationPending)
	em.drop = true

	require.NoError(t, act(t, svc, bob, alice, ActionAccept))
	assert.Zero(t, st.friends(alice))
}

// ---- reject ----

func TestReject_RoundTripToNone(t *testing.T) {
	svc, st, _ := newTestService(t)
	require.NoError(t, act(t, svc, alice, bob, ActionRequest))
	require.NoError(t, act(t, svc, bob, alice, ActionReject))
	assert.Empty(t, st.pair(alice, bob))

	// Pair is reusable afterwards in either direction.
	require.NoError(t, act(t, svc, bob, alice, ActionRequest))
	assert.Equal(t, bob, requireOne(t, st, alice, bob).InitiatorID)
}

func TestReject_AnyExistingStateByEitherParty(t *testing.T) {
	for _, status := range []model.RelationStatus{model.RelationPending, model.RelationAccepted, model.RelationBlocked} {
		for _, actor := range []string{alice, bob} {
			t.Run(string(status)+"/"+actor, func(t *testing.T) {
				svc, st, _ := newTestService(t)
				st.put(alice, bob, status)
				require.NoError(t, act(t, svc, actor, other(actor), ActionReject))
				assert.Empty(t, st.pair(alice, bob))
			})
		}
	}
}

func TestReject_NothingToReject(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.ErrorIs(t, act(t, svc, alice, bob, ActionReject), ErrNothingToReject)
}

func TestReject_DeleteFailure(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.put(alice, bob, model.RelationPending)
	st.deleteErr = errStoreDown
	assert.ErrorIs(t, act(t, svc, bob, alice, ActionReject), ErrStoreUnavailable)
}

// ---- block ----

func other(u string) string {
	if u == alice {
		return bob
	}
	return alice
}

func TestBlock_FromAnyState(t *testing.T) {
	type prior struct {
		initiator string
		status    model.RelationStatus
	}
	priors := []prior{
		{"", ""},
		{alice, model.RelationPending},
		{bob, model.RelationPending},
		{alice, model.RelationAccepted},
		{bob, model.RelationAccepted},
		{bob, model.RelationBlocked},
	}
	for _, p := range priors {
		t.Run(fmt.Sprintf("%s-%s", p.initiator, p.status), func(t *testing.T) {
			svc, st, em := newTestService(t)
			if p.initiator != "" {
				st.put(p.initiator, other(p.initiator), p.status)
			}

			require.NoError(t, act(t, svc, alice, bob, ActionBlock))

			row := requireOne(t, st, alice, bob)
			assert.Equal(t, model.RelationBlocked, row.Status)
			assert.Equal(t, alice, row.InitiatorID)
			assert.Equal(t, bob, row.RecipientID)
			assert.Empty(t, em.names)
		})
	}
}

func TestBlock_Idempotent(t *testing.T) {
	svc, st, _ := newTestService(t)
	require.NoError(t, act(t, svc, alice, bob, ActionBlock))
	first := requireOne(t, st, alice, bob)

	require.NoError(t, act(t, svc, alice, bob, ActionBlock))
	assert.Equal(t, first, requireOne(t, st, alice, bob))
}

func TestBlock_RepairsDuplicateRows(t *testing.T) {
	svc, st, _ := newTestService(t)
	st.put(alice, bob, model.RelationPending)
	st.put(bob, alice, model.RelationPending)

	require.NoError(t, act(t, svc, bob, alice, ActionBlock))
	row := requireOne(t, st, alice, bob)
	assert.Equal(t, bob, row.InitiatorID)
	assert.Equal(t, model.RelationBlocked, row.Status)
}

func TestBlock_DuplicateKeyRace(t *testing.T) {
	t.Run("same actor won", func(t *testing.T) {
		svc, st, _ := newTestService(t)
		st.beforeInsert = func(s *memStore) { s.put(alice, bob, model.RelationBlocked) }
		require.NoError(t, act(t, svc, alice, bob, ActionBlock))
		requireOne(t, st, alice, bob)
	})
	t.Run("different state won", func(t *testing.T) {
		svc, st, _ := newTestService(t)
		st.beforeInsert = func(s *memStore) { s.put(alice, bob, model.RelationPending) }
		assert.ErrorIs(t, act(t, svc, alice, bob, ActionBlock), ErrConflictingState)
	})
}

// ---- conflicting rows ----

func TestConflictingRows(t *testing.T) {
	setup := func(t *testing.T) (*Service, *memStore) {
		svc, st, _ := newTestService(t)
		st.put(alice, bob, model.RelationPending)
		st.put(bob, alice, model.RelationPending)
		return svc, st
	}

	t.Run("request", func(t *testing.T) {
		svc, _ := setup(t)
		assert.ErrorIs(t, act(t, svc, alice, bob, ActionRequest), ErrConflictingState)
	})
	t.Run("accept", func(t *testing.T) {
		svc, _ := setup(t)
		assert.ErrorIs(t, act(t, svc, alice, bob, ActionAccept), ErrConflictingState)
	})
	t.Run("reject clears both", func(t *testing.T) {
		svc, st := setup(t)
		require.NoError(t, act(t, svc, alice, bob, ActionReject))
		assert.Empty(t, st.pair(alice, bob))
	})
	t.Run("status", func(t *testing.T) {
		svc, _ := setup(t)
		_, _, err := svc.Status(context.Background(), alice, bob)
		assert.ErrorIs(t, err, ErrConflictingState)
	})
}

// ---- store failures ----

func TestStoreFailureOnRead(t *testing.T) {
	for _, a := range []Action{ActionRequest, ActionAccept, ActionReject, ActionBlock} {
		t.Run(string(a), func(t *testing.T) {
			svc, st, _ := newTestService(t)
			st.findErr = errStoreDown

			err := act(t, svc, alice, bob, a)
			assert.ErrorIs(t, err, ErrStoreUnavailable)
			assert.True(t, errors.Is(err, errStoreDown))

			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, string(a), re.Action)
		})
	}
}

func TestStoreDeadline(t *testing.T) {
	st := newMemStore()
	st.blockFind = true
	svc := NewService(st, &syncEmitter{}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := svc.HandleAction(context.Background(), alice, bob, "request")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

// ---- pair properties ----

func TestScenario_RequestAcceptThenRequestAgain(t *testing.T) {
	svc, st, _ := newTestService(t)

	require.NoError(t, act(t, svc, alice, bob, ActionRequest))
	row := requireOne(t, st, alice, bob)
	assert.Equal(t, model.RelationPending, row.Status)
	assert.Equal(t, alice, row.InitiatorID)

	require.NoError(t, act(t, svc, bob, alice, ActionAccept))
	row = requireOne(t, st, alice, bob)
	assert.Equal(t, model.RelationAccepted, row.Status)
	assert.Equal(t, int64(1), st.friends(alice))
	assert.Equal(t, int64(1), st.friends(bob))

	var accepted []model.Notification
	for _, n := range st.notes() {
		if n.Kind == model.NotifyFriendAccepted {
			accepted = append(accepted, n)
		}
	}
	require.Len(t, accepted, 1)
	assert.Equal(t, alice, accepted[0].UserID)

	assert.ErrorIs(t, act(t, svc, alice, bob, ActionRequest), ErrAlreadyFriends)
	assert.Equal(t, row, requireOne(t, st, alice, bob))
	assert.Equal(t, int64(1), st.friends(alice))
	assert.Equal(t, int64(1), st.friends(bob))
}

func TestRandomSequences_OneRowPerPair(t *testing.T) {
	users := []string{alice, bob, carol}
	actions := []Action{ActionRequest, ActionAccept, ActionReject, ActionBlock}
	rng := rand.New(rand.NewSource(42))

	svc, st, _ := newTestService(t)
	for i := 0; i < 2000; i++ {
		a := users[rng.Intn(len(users))]
		b := users[rng.Intn(len(users))]
		action := actions[rng.Intn(len(actions))]
		err := act(t, svc, a, b, action)
		if a == b {
			require.ErrorIs(t, err, ErrSelfTargetInvalid)
			continue
		}
		if action == ActionBlock {
			require.NoError(t, err)
			row := requireOne(t, st, a, b)
			require.Equal(t, a, row.InitiatorID)
			require.Equal(t, model.RelationBlocked, row.Status)
		}

		for x := 0; x < len(users); x++ {
			for y := x + 1; y < len(users); y++ {
				require.LessOrEqual(t, len(st.pair(users[x], users[y])), 1)
			}
		}
	}
}

func TestAcceptedOnlyViaRecipient(t *testing.T) {
	users := []string{alice, bob}
	rng := rand.New(rand.NewSource(7))
	svc, st, _ := newTestService(t)

	for i := 0; i < 500; i++ {
		a := users[rng.Intn(2)]
		before := st.pair(alice, bob)
		action := []Action{ActionRequest, ActionAccept, ActionReject, ActionBlock}[rng.Intn(4)]
		err := act(t, svc, a, other(a), action)

		after := st.pair(alice, bob)
		if len(after) == 1 && after[0].Status == model.RelationAccepted &&
			(len(before) == 0 || before[0].Status != model.RelationAccepted) {
			require.NoError(t, err)
			require.Equal(t, ActionAccept, action)
			require.Len(t, before, 1)
			require.Equal(t, model.RelationPending, before[0].Status)
			require.Equal(t, before[0].RecipientID, a)
		}
	}
}

// ---- reads ----

func TestStatus(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	status, row, err := svc.Status(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, StatusNone, status)
	assert.Nil(t, row)

	st.put(bob, alice, model.RelationPending)
	status, row, err = svc.Status(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	require.NotNil(t, row)
	assert.Equal(t, bob, row.InitiatorID)

	_, _, err = svc.Status(ctx, alice, alice)
	assert.ErrorIs(t, err, ErrSelfTargetInvalid)

	_, _, err = svc.Status(ctx, alice, strings.Repeat("x", model.MaxUserIDLen+1))
	assert.ErrorIs(t, err, ErrInvalidTarget)
}

func TestFriendsAndPending(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()
	st.put(alice, bob, model.RelationAccepted)
	st.put(carol, alice, model.RelationPending)
	st.put(alice, "dave", model.RelationPending)

	friends, err := svc.Friends(ctx, alice)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, bob, friends[0].Other(alice))

	pending, err := svc.PendingRequests(ctx, alice)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, carol, pending[0].InitiatorID)

	_, err = svc.Friends(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	st.findErr = errStoreDown
	_, err = svc.PendingRequests(ctx, alice)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

// ---- errors ----

func TestErrorFormatting(t *testing.T) {
	err := storeFailure("accept", errStoreDown)
	assert.Equal(t, "accept: store unavailable: connection refused", err.Error())
	assert.Equal(t, "store_unavailable", Code(err))
	assert.Equal(t, ErrStoreUnavailable, KindOf(err))

	assert.Equal(t, "ok", Code(nil))
	assert.Equal(t, "internal", Code(errors.New("other")))
	assert.Nil(t, KindOf(errors.New("other")))

	wrapped := fmt.Errorf("handler: %w", fail(ErrAlreadyFriends, "request"))
	assert.ErrorIs(t, wrapped, ErrAlreadyFriends)
	assert.Equal(t, "already_friends", Code(wrapped))
}
