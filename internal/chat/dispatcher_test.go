package chat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/ai"
)

func TestDispatch_TextReply(t *testing.T) {
	var got ai.Request
	h := newHarness(t, harnessOpts{provider: providerFunc(func(_ context.Context, req ai.Request) (string, error) {
		got = req
		return "Hi there", nil
	})})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "Hello")))
	h.dispatcher.Wait()

	assert.Equal(t, []string{"Hi there"}, h.sender.texts())

	conv := h.store.GetOrCreate(ctx, 1)
	turns := conv.Turns()
	assert.Equal(t, []ai.Role{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant}, roles(turns))
	assert.Equal(t, DefaultSystemPrompt, summary(turns[0]))
	assert.Equal(t, "Hello", summary(turns[1]))
	assert.Equal(t, "Hi there", summary(turns[2]))
	assert.False(t, conv.IsBusy())

	// the provider saw system + user, tagged with the user id
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, "1", got.User)

	require.Len(t, h.publisher.recs, 1)
	assert.Equal(t, int64(1), h.publisher.recs[0].UserID)
	assert.Equal(t, "assistant:Hi there", h.publisher.recs[0].Turns[2])
}

func TestDispatch_RejectsWhileBusy(t *testing.T) {
	prov := newBlockingProvider("first answer")
	h := newHarness(t, harnessOpts{provider: prov})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "first")))
	prov.waitStarted(t)

	err := h.service.HandleMessage(ctx, textEvent(1, "second"))
	require.ErrorIs(t, err, ErrAdmissionRejected)
	assert.Equal(t, []string{NoticeBusy}, h.sender.texts())

	close(prov.unblock)
	h.dispatcher.Wait()

	assert.Equal(t, []string{NoticeBusy, "first answer"}, h.sender.texts())
	turns := h.store.GetOrCreate(ctx, 1).Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "first", summary(turns[1]))
}

func TestDispatch_RejectsPhotoWhileBusyWithoutFetching(t *testing.T) {
	prov := newBlockingProvider("ok")
	var fetches atomic.Int32
	h := newHarness(t, harnessOpts{
		provider: prov,
		fetcher: fetcherFunc(func(context.Context, string) ([]byte, error) {
			fetches.Add(1)
			return pngBytes, nil
		}),
	})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "first")))
	prov.waitStarted(t)

	err := h.service.HandleMessage(ctx, photoEvent(1, "look"))
	require.ErrorIs(t, err, ErrAdmissionRejected)

	close(prov.unblock)
	h.dispatcher.Wait()

	assert.Equal(t, int32(0), fetches.Load())
	assert.Len(t, h.store.GetOrCreate(ctx, 1).Turns(), 3)
}

func TestDispatch_UsersDoNotBlockEachOther(t *testing.T) {
	prov := newBlockingProvider("ok")
	h := newHarness(t, harnessOpts{provider: prov})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "from one")))
	prov.waitStarted(t)
	require.NoError(t, h.service.HandleMessage(ctx, textEvent(2, "from two")))
	prov.waitStarted(t)

	assert.True(t, h.store.IsBusy(1))
	assert.True(t, h.store.IsBusy(2))

	close(prov.unblock)
	h.dispatcher.Wait()

	assert.False(t, h.store.IsBusy(1))
	assert.False(t, h.store.IsBusy(2))
}

func TestDispatch_PhotoTurn(t *testing.T) {
	var got ai.Request
	h := newHarness(t, harnessOpts{provider: providerFunc(func(_ context.Context, req ai.Request) (string, error) {
		got = req
		return "a cat", nil
	})})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, photoEvent(1, "what is this?")))
	h.dispatcher.Wait()

	require.Len(t, got.Messages, 2)
	mp, ok := got.Messages[1].Content.(ai.MultiPartContent)
	require.True(t, ok)
	require.Len(t, mp.Parts, 2)
	assert.Equal(t, "what is this?", mp.Parts[0].Text)
	assert.Contains(t, mp.Parts[1].ImageURL, "data:image/png;base64,")
	assert.Equal(t, []string{"a cat"}, h.sender.texts())
}

func TestDispatch_ContextLengthClearsHistory(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, harnessOpts{provider: providerFunc(func(_ context.Context, req ai.Request) (string, error) {
		if calls.Add(1) == 1 {
			return "", &ai.Error{Kind: ai.KindContextLength, Err: errors.New("too long")}
		}
		return "fresh start", nil
	})})
	ctx := context.Background()

	conv := h.store.GetOrCreate(ctx, 1)
	require.NoError(t, conv.Update(ctx, func(tx *Tx) error {
		tx.Append(ai.Text(ai.RoleSystem, DefaultSystemPrompt))
		for i := 0; i < 49; i++ {
			tx.Append(ai.Text(ai.RoleUser, "filler"))
		}
		return nil
	}))
	require.Equal(t, 50, conv.Len())

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "one more")))
	h.dispatcher.Wait()

	assert.Equal(t, 0, conv.Len())
	assert.Equal(t, []string{NoticeContextExceeded}, h.sender.texts())
	assert.False(t, conv.IsBusy())

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "again")))
	h.dispatcher.Wait()
	assert.Equal(t, []ai.Role{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant}, roles(conv.Turns()))
}

func TestDispatch_TimeoutRollsBack(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })

	var calls atomic.Int32
	h := newHarness(t, harnessOpts{
		timeout: 50 * time.Millisecond,
		provider: providerFunc(func(_ context.Context, req ai.Request) (string, error) {
			if calls.Add(1) == 1 {
				return "first", nil
			}
			// ignores ctx on purpose
			<-hang
			return "too late", nil
		}),
	})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	h.dispatcher.Wait()
	conv := h.store.GetOrCreate(ctx, 1)
	require.Equal(t, 3, conv.Len())

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "slow one")))
	h.dispatcher.Wait()

	assert.Equal(t, 3, conv.Len())
	assert.Equal(t, []string{"first", NoticeTimeout}, h.sender.texts())
	assert.False(t, conv.IsBusy())
}

func TestDispatch_FailureOnFirstMessageLeavesHistoryEmpty(t *testing.T) {
	h := newHarness(t, harnessOpts{provider: providerFunc(func(context.Context, ai.Request) (string, error) {
		return "", &ai.Error{Kind: ai.KindTransient, Err: errors.New("connection reset")}
	})})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	h.dispatcher.Wait()

	assert.Equal(t, 0, h.store.GetOrCreate(ctx, 1).Len())
	assert.Equal(t, []string{NoticeRetry}, h.sender.texts())
	assert.Empty(t, h.publisher.recs)
}

func TestDispatch_AttachmentFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{
		provider: replyWith("unused"),
		fetcher: fetcherFunc(func(context.Context, string) ([]byte, error) {
			return nil, errors.New("telegram unavailable")
		}),
	})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, photoEvent(1, "")))
	h.dispatcher.Wait()

	conv := h.store.GetOrCreate(ctx, 1)
	assert.Equal(t, 0, conv.Len())
	assert.False(t, conv.IsBusy())
	assert.Equal(t, []string{NoticeAttachment}, h.sender.texts())
}

func TestDispatch_ProviderPanicReleasesUser(t *testing.T) {
	h := newHarness(t, harnessOpts{provider: providerFunc(func(context.Context, ai.Request) (string, error) {
		panic("boom")
	})})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	h.dispatcher.Wait()

	conv := h.store.GetOrCreate(ctx, 1)
	assert.False(t, conv.IsBusy())
	assert.Equal(t, 0, conv.Len())
	assert.Equal(t, []string{NoticeRetry}, h.sender.texts())
}

func TestDispatch_SenderPanicReleasesUser(t *testing.T) {
	h := newHarness(t, harnessOpts{provider: replyWith("hi")})
	h.sender.panic = true
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	h.dispatcher.Wait()

	assert.False(t, h.store.IsBusy(1))
}

func TestDispatch_CallerCancellationDoesNotAbortJob(t *testing.T) {
	prov := newBlockingProvider("done")
	h := newHarness(t, harnessOpts{provider: prov})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	prov.waitStarted(t)
	cancel()
	close(prov.unblock)
	h.dispatcher.Wait()

	assert.Equal(t, []string{"done"}, h.sender.texts())
}

func TestClean_Twice(t *testing.T) {
	h := newHarness(t, harnessOpts{provider: replyWith("hi")})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	h.dispatcher.Wait()

	ev := textEvent(1, "/clean")
	require.NoError(t, h.service.Clean(ctx, ev))
	require.NoError(t, h.service.Clean(ctx, ev))

	assert.Equal(t, 0, h.store.GetOrCreate(ctx, 1).Len())
	assert.Equal(t, []string{"hi", NoticeCleaned, NoticeCleaned}, h.sender.texts())
}

func TestClean_DuringFlight(t *testing.T) {
	prov := newBlockingProvider("late answer")
	h := newHarness(t, harnessOpts{provider: prov})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(1, "hello")))
	prov.waitStarted(t)

	require.NoError(t, h.service.Clean(ctx, textEvent(1, "/clean")))
	close(prov.unblock)
	h.dispatcher.Wait()

	// the reply is delivered but not written into the cleaned history
	assert.Equal(t, []string{NoticeCleaned, "late answer"}, h.sender.texts())
	assert.Equal(t, 0, h.store.GetOrCreate(ctx, 1).Len())
	assert.Empty(t, h.publisher.recs)
}

func TestStart_Greets(t *testing.T) {
	h := newHarness(t, harnessOpts{provider: replyWith("hi")})
	ev := textEvent(1, "/start")
	ev.User.Name = "Ann"

	require.NoError(t, h.service.Start(context.Background(), ev))
	assert.Equal(t, []string{"Welcome Ann to the simple OpenAI chat bot!"}, h.sender.texts())
}

func TestDispatch_RecordsJobs(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	h := newHarness(t, harnessOpts{provider: replyWith("hi"), persist: repo, jobs: repo})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, textEvent(7, "hello")))
	h.dispatcher.Wait()

	jobs, err := repo.ListJobs(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobSucceeded, jobs[0].Status)
	assert.Equal(t, "text", jobs[0].Kind)

	turns, err := repo.LoadTurns(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []ai.Role{ai.RoleSystem, ai.RoleUser, ai.RoleAssistant}, roles(turns))
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t, harnessOpts{provider: replyWith("hi")})
	ctx := context.Background()

	require.NoError(t, h.service.HandleMessage(ctx, photoEvent(3, "cap")))
	h.dispatcher.Wait()

	view := h.service.Snapshot(ctx, 3)
	assert.Equal(t, int64(3), view.UserID)
	assert.False(t, view.Busy)
	require.Len(t, view.Turns, 3)
	assert.Equal(t, "cap [image]", view.Turns[1].Text)

	require.NoError(t, h.service.Reset(ctx, 3))
	assert.Empty(t, h.service.Snapshot(ctx, 3).Turns)
}
