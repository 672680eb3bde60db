package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinLeaveIsNetZero(t *testing.T) {
	tr := NewTracker()
	tr.Join("room_5", "7")
	before := tr.MemberCount("room_5")

	count, added := tr.Join("room_5", "3")
	assert.True(t, added)
	assert.Equal(t, before+1, count)

	count, added = tr.Join("room_5", "3")
	assert.False(t, added)
	assert.Equal(t, before+1, count)

	count, removed := tr.Leave("room_5", "3")
	assert.True(t, removed)
	assert.Equal(t, before, count)

	count, removed = tr.Leave("room_5", "3")
	assert.False(t, removed)
	assert.Equal(t, before, count)
	assert.Equal(t, []string{"7"}, tr.Members("room_5"))
}

func TestLeaveUnknownRoom(t *testing.T) {
	tr := NewTracker()
	count, removed := tr.Leave("room_1", "3")
	assert.Zero(t, count)
	assert.False(t, removed)
	assert.Empty(t, tr.Members("room_1"))
}

func TestLeaveAll(t *testing.T) {
	tr := NewTracker()
	tr.Join("room_1", "3")
	tr.Join("room_2", "3")
	tr.Join("room_2", "7")
	tr.Join("private_3_7", "3")
	assert.Equal(t, []string{"private_3_7", "room_1", "room_2"}, tr.Rooms("3"))

	left := tr.LeaveAll("3")
	assert.Equal(t, map[string]int{"room_1": 0, "room_2": 1, "private_3_7": 0}, left)
	assert.Empty(t, tr.Rooms("3"))
	assert.False(t, tr.IsMember("room_2", "3"))
	assert.True(t, tr.IsMember("room_2", "7"))
	assert.Empty(t, tr.LeaveAll("3"))
}

func TestConcurrentJoins(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userId := fmt.Sprintf("%d", i%10)
			tr.Join("room_1", userId)
			tr.Leave("room_1", userId)
			tr.Join("room_1", userId)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 10, tr.MemberCount("room_1"))
}
