package livelist

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rugrow/server/internal/model"
	"rugrow/server/internal/rtdb"
)

// fakeListen 记录一次 OnValue 注册，测试可在任意时刻手动触发回调。
type fakeListen struct {
	query      rtdb.Query
	onSnapshot func(rtdb.Snapshot)
	onError    func(error)
	released   bool
}

// fakeDB 只实现监听，并检查同一时刻最多只有一个存活监听。
type fakeDB struct {
	t       *testing.T
	mu      sync.Mutex
	listens []*fakeListen
}

func (f *fakeDB) OnValue(q rtdb.Query, onSnapshot func(rtdb.Snapshot), onError func(error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listens {
		if !l.released {
			f.t.Errorf("listener for %s still live while subscribing to %s", l.query.Path, q.Path)
		}
	}
	l := &fakeListen{query: q, onSnapshot: onSnapshot, onError: onError}
	f.listens = append(f.listens, l)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		l.released = true
	}
}

func (f *fakeDB) Get(context.Context, rtdb.Query) (rtdb.Snapshot, error) {
	return rtdb.Snapshot{}, errors.New("not implemented")
}

func (f *fakeDB) Push(context.Context, string, any) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeDB) Set(context.Context, string, string, any) error {
	return errors.New("not implemented")
}

func (f *fakeDB) listen(i int) *fakeListen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens[i]
}

func (f *fakeDB) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listens)
}

func wateringSnapshot(path string, amounts ...int) rtdb.Snapshot {
	children := make([]rtdb.Child, 0, len(amounts))
	for i, a := range amounts {
		children = append(children, rtdb.Child{
			Key:   fmt.Sprintf("k%d", i+1),
			Value: []byte(fmt.Sprintf(`{"plantId":"p1","timestamp":%d,"waterAmount":%d}`, (i+1)*100, a)),
		})
	}
	return rtdb.NewSnapshot(path, children)
}

func openStore(t *testing.T, opts ...rtdb.Option) *rtdb.Store {
	t.Helper()
	s, err := rtdb.Open(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func settle[T any, PT Record[T]](t *testing.T, s *Subscriber[T, PT]) State[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Settled(ctx)
	require.NoError(t, err)
	return st
}

// waitFor 轮询直到条件满足。
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestLimitToLastReturnsNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	path := model.WateringPath("p1")

	for _, ts := range []int64{100, 200, 300} {
		_, err := store.Push(ctx, path, model.WateringEvent{PlantID: "p1", Timestamp: model.Timestamp(ts), WaterAmount: float64(ts)})
		require.NoError(t, err)
	}

	sub := New[model.WateringEvent](store, Target{Path: path, Options: Options{LimitToLast: 1, OrderBy: "timestamp"}}, zaptest.NewLogger(t))
	defer sub.Close()

	st := settle(t, sub)
	require.NoError(t, st.Err)
	require.Len(t, st.Data, 1)
	assert.Equal(t, model.Timestamp(300), st.Data[0].Timestamp)
	assert.NotEmpty(t, st.Data[0].ID)
}

func TestLimitToLastWindowIsNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	path := model.WateringPath("p1")

	// 插入顺序与时间戳顺序不同：视图按 orderBy 字段取窗口，最新在前。
	for _, ts := range []int64{200, 400, 100, 300} {
		_, err := store.Push(ctx, path, model.WateringEvent{PlantID: "p1", Timestamp: model.Timestamp(ts)})
		require.NoError(t, err)
	}

	sub := New[model.WateringEvent](store, Target{Path: path, Options: Options{LimitToLast: 3, OrderBy: "timestamp"}}, nil)
	defer sub.Close()

	st := settle(t, sub)
	var got []model.Timestamp
	for _, e := range st.Data {
		got = append(got, e.Timestamp)
	}
	assert.Equal(t, []model.Timestamp{400, 300, 200}, got)
}

func TestEmptyPathResolvesToEmptySequence(t *testing.T) {
	store := openStore(t)

	sub := New[model.EnvironmentData](store, Target{Path: model.EnvironmentPath("p2")}, nil)
	defer sub.Close()

	st := settle(t, sub)
	require.NotNil(t, st.Data)
	assert.Empty(t, st.Data)
	assert.False(t, st.IsLoading)
	assert.NoError(t, st.Err)
	assert.True(t, st.Empty())
}

func TestAppendedRecordAppearsAtFront(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	path := model.WateringPath("p1")

	_, err := store.Push(ctx, path, model.WateringEvent{PlantID: "p1", Timestamp: 100, WaterAmount: 50})
	require.NoError(t, err)

	sub := New[model.WateringEvent](store, Target{Path: path, Options: Options{LimitToLast: 1, OrderBy: "timestamp"}}, nil)
	defer sub.Close()
	settle(t, sub)

	// 服务端时间戳远大于 100，新记录必然是最新的一条。
	id, err := store.Push(ctx, path, model.WateringEvent{PlantID: "p1", WaterAmount: 250})
	require.NoError(t, err)

	waitFor(t, func() bool {
		st := sub.State()
		return len(st.Data) == 1 && st.Data[0].ID == id
	})
	assert.Equal(t, 250.0, sub.State().Data[0].WaterAmount)
}

func TestDeniedReadIsDegraded(t *testing.T) {
	store := openStore(t, rtdb.WithRules(rtdb.Rules{DenyRead: []string{"plants/p3/**"}}))

	sub := New[model.EnvironmentData](store, Target{Path: model.EnvironmentPath("p3")}, zaptest.NewLogger(t))
	defer sub.Close()

	st := settle(t, sub)
	assert.Nil(t, st.Data)
	assert.False(t, st.IsLoading)
	assert.ErrorIs(t, st.Err, rtdb.ErrPermissionDenied)
	assert.True(t, st.Degraded())
}

func TestErrorKeepsLastKnownData(t *testing.T) {
	db := &fakeDB{t: t}
	path := model.WateringPath("p1")
	sub := New[model.WateringEvent](db, Target{Path: path}, nil)
	defer sub.Close()

	db.listen(0).onSnapshot(wateringSnapshot(path, 10, 20))
	require.Len(t, sub.State().Data, 2)

	lost := errors.New("connection lost")
	db.listen(0).onError(lost)

	st := sub.State()
	assert.ErrorIs(t, st.Err, lost)
	assert.False(t, st.IsLoading)
	assert.Len(t, st.Data, 2)
}

func TestStoreDisconnectKeepsStaleData(t *testing.T) {
	store, err := rtdb.Open(context.Background())
	require.NoError(t, err)
	path := model.WateringPath("p1")
	_, err = store.Push(context.Background(), path, model.WateringEvent{PlantID: "p1", Timestamp: 100})
	require.NoError(t, err)

	sub := New[model.WateringEvent](store, Target{Path: path}, nil)
	defer sub.Close()
	settle(t, sub)

	require.NoError(t, store.Close())
	waitFor(t, func() bool { return sub.State().Err != nil })

	st := sub.State()
	assert.ErrorIs(t, st.Err, rtdb.ErrDisconnected)
	assert.Len(t, st.Data, 1)
}

func TestLoadingTransitionsOncePerSubscription(t *testing.T) {
	db := &fakeDB{t: t}
	path := model.WateringPath("p1")
	sub := New[model.WateringEvent](db, Target{Path: path}, nil)
	defer sub.Close()

	assert.True(t, sub.State().IsLoading)

	db.listen(0).onSnapshot(wateringSnapshot(path, 1))
	assert.False(t, sub.State().IsLoading)

	db.listen(0).onSnapshot(wateringSnapshot(path, 1, 2))
	assert.False(t, sub.State().IsLoading)
	db.listen(0).onError(errors.New("boom"))
	assert.False(t, sub.State().IsLoading)

	// 新目标 = 新的 loading 周期，旧数据不会带过去。
	sub.Retarget(Target{Path: model.WateringPath("p2")})
	st := sub.State()
	assert.True(t, st.IsLoading)
	assert.Nil(t, st.Data)
	assert.NoError(t, st.Err)
}

func TestRetargetReleasesBeforeResubscribing(t *testing.T) {
	db := &fakeDB{t: t}
	sub := New[model.WateringEvent](db, Target{Path: model.WateringPath("p1")}, nil)
	defer sub.Close()

	sub.Retarget(Target{Path: model.WateringPath("p1"), Options: Options{LimitToLast: 1}})
	sub.Retarget(Target{Path: model.WateringPath("p2"), Options: Options{LimitToLast: 1}})
	require.Equal(t, 3, db.count())
	assert.True(t, db.listen(0).released)
	assert.True(t, db.listen(1).released)
	assert.False(t, db.listen(2).released)
	assert.Equal(t, 1, db.listen(2).query.LimitToLast)

	// 相同目标不会重建订阅。
	sub.Retarget(Target{Path: model.WateringPath("p2"), Options: Options{LimitToLast: 1}})
	assert.Equal(t, 3, db.count())
}

func TestStaleCallbacksAreIgnored(t *testing.T) {
	db := &fakeDB{t: t}
	p1 := model.WateringPath("p1")
	sub := New[model.WateringEvent](db, Target{Path: p1}, nil)
	defer sub.Close()

	sub.Retarget(Target{Path: model.WateringPath("p2")})

	// 旧订阅的迟到回调不能污染新订阅。
	db.listen(0).onSnapshot(wateringSnapshot(p1, 1, 2, 3))
	db.listen(0).onError(errors.New("late"))

	st := sub.State()
	assert.True(t, st.IsLoading)
	assert.Nil(t, st.Data)
	assert.NoError(t, st.Err)
}

func TestCloseBeforeFirstSnapshot(t *testing.T) {
	db := &fakeDB{t: t}
	path := model.WateringPath("p1")
	sub := New[model.WateringEvent](db, Target{Path: path}, nil)

	ch, cancel := sub.Watch()
	defer cancel()
	<-ch

	sub.Close()
	sub.Close()
	assert.True(t, db.listen(0).released)

	db.listen(0).onSnapshot(wateringSnapshot(path, 1))
	db.listen(0).onError(errors.New("late"))

	st := sub.State()
	assert.True(t, st.IsLoading)
	assert.Nil(t, st.Data)

	_, open := <-ch
	assert.False(t, open, "watch channel should be closed")

	_, err := sub.Settled(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNilDatabaseIsNotYetReady(t *testing.T) {
	sub := New[model.WateringEvent](nil, Target{Path: model.WateringPath("p1")}, nil)
	defer sub.Close()

	st := sub.State()
	assert.True(t, st.IsLoading)
	assert.Nil(t, st.Data)
	assert.NoError(t, st.Err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Settled(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	store := openStore(t)
	sub.SetDatabase(store)
	st = settle(t, sub)
	assert.NotNil(t, st.Data)
	assert.Empty(t, st.Data)
}

// 尚未 Open 的 *rtdb.Store 装进接口后不是 nil，同样视为未就绪，且不注册监听。
func TestTypedNilStoreIsNotYetReady(t *testing.T) {
	var store *rtdb.Store
	before := runtime.NumGoroutine()

	sub := New[model.WateringEvent](store, Target{Path: model.WateringPath("p1")}, nil)
	defer sub.Close()

	st := sub.State()
	assert.True(t, st.IsLoading)
	assert.Nil(t, st.Data)
	assert.NoError(t, st.Err)
	assert.LessOrEqual(t, runtime.NumGoroutine(), before)

	sub.SetDatabase(store)
	assert.True(t, sub.State().IsLoading)

	opened := openStore(t)
	sub.SetDatabase(opened)
	st = settle(t, sub)
	assert.NotNil(t, st.Data)
	assert.NoError(t, st.Err)
}

func TestEmptyPathIsNotYetReady(t *testing.T) {
	db := &fakeDB{t: t}
	sub := New[model.Plant](db, Target{}, nil)
	defer sub.Close()

	assert.True(t, sub.State().IsLoading)
	assert.Zero(t, db.count())

	sub.Retarget(Target{Path: model.PlantsPath})
	assert.Equal(t, 1, db.count())
}

func TestWatchDeliversLatestState(t *testing.T) {
	db := &fakeDB{t: t}
	path := model.WateringPath("p1")
	sub := New[model.WateringEvent](db, Target{Path: path}, nil)
	defer sub.Close()

	ch, cancel := sub.Watch()
	first := <-ch
	assert.True(t, first.IsLoading)

	db.listen(0).onSnapshot(wateringSnapshot(path, 1))
	db.listen(0).onSnapshot(wateringSnapshot(path, 1, 2))

	latest := <-ch
	assert.Len(t, latest.Data, 2)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestIndependentSubscribers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	env := New[model.EnvironmentData](store, Target{Path: model.EnvironmentPath("p1"), Options: Options{LimitToLast: 1, OrderBy: "timestamp"}}, nil)
	defer env.Close()
	water := New[model.WateringEvent](store, Target{Path: model.WateringPath("p1"), Options: Options{LimitToLast: 1, OrderBy: "timestamp"}}, nil)
	defer water.Close()

	settle(t, env)
	settle(t, water)

	_, err := store.Push(ctx, model.EnvironmentPath("p1"), model.EnvironmentData{Temperature: 24, SoilMoisture: 68})
	require.NoError(t, err)

	waitFor(t, func() bool { return len(env.State().Data) == 1 })
	assert.Empty(t, water.State().Data)
	assert.Equal(t, 24.0, env.State().Data[0].Temperature)
}
