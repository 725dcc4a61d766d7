package queue

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func TestPriorityQueue(t *testing.T) {
	pq := &priorityQueue{}
	heap.Init(pq)

	jobs := []*models.ExportJob{
		{ID: "job-1", Options: models.JobOptions{Priority: 5}},
		{ID: "job-2", Options: models.JobOptions{Priority: 10}},
		{ID: "job-3", Options: models.JobOptions{Priority: 1}},
		{ID: "job-4", Options: models.JobOptions{Priority: 7}},
	}
	for i, job := range jobs {
		heap.Push(pq, &queueItem{job: job, priority: job.Options.Priority, sequence: int64(i)})
	}

	assert.Equal(t, 4, pq.Len())

	expectedOrder := []models.JobID{"job-2", "job-4", "job-1", "job-3"}
	for i, expectedID := range expectedOrder {
		item := heap.Pop(pq).(*queueItem)
		assert.Equal(t, expectedID, item.job.ID, "Job order mismatch at position %d", i)
	}
	assert.Equal(t, 0, pq.Len())
}

func TestPriorityQueueFIFO(t *testing.T) {
	pq := &priorityQueue{}
	heap.Init(pq)

	items := []*queueItem{
		{job: &models.ExportJob{ID: "job-3"}, priority: 5, sequence: 3},
		{job: &models.ExportJob{ID: "job-1"}, priority: 5, sequence: 1},
		{job: &models.ExportJob{ID: "job-2"}, priority: 5, sequence: 2},
	}
	for _, item := range items {
		heap.Push(pq, item)
	}

	expectedOrder := []models.JobID{"job-1", "job-2", "job-3"}
	for i, expectedID := range expectedOrder {
		item := heap.Pop(pq).(*queueItem)
		assert.Equal(t, expectedID, item.job.ID, "FIFO order mismatch at position %d", i)
	}
}

func TestPriorityQueueRemove(t *testing.T) {
	pq := &priorityQueue{}
	a := &queueItem{job: &models.ExportJob{ID: "a"}, priority: 1, sequence: 1}
	b := &queueItem{job: &models.ExportJob{ID: "b"}, priority: 9, sequence: 2}
	c := &queueItem{job: &models.ExportJob{ID: "c"}, priority: 5, sequence: 3}
	heap.Push(pq, a)
	heap.Push(pq, b)
	heap.Push(pq, c)

	heap.Remove(pq, c.index)
	assert.Equal(t, -1, c.index)
	assert.Equal(t, models.JobID("b"), heap.Pop(pq).(*queueItem).job.ID)
	assert.Equal(t, models.JobID("a"), heap.Pop(pq).(*queueItem).job.ID)
}

func TestBackoffDelay(t *testing.T) {
	base := 5 * time.Second
	assert.Equal(t, 5*time.Second, backoffDelay(base, 1))
	assert.Equal(t, 10*time.Second, backoffDelay(base, 2))
	assert.Equal(t, 20*time.Second, backoffDelay(base, 3))
	assert.Equal(t, 5*time.Second, backoffDelay(base, 0))
	assert.Equal(t, MaxRetryDelay, backoffDelay(base, 15))
	assert.Equal(t, MaxRetryDelay, backoffDelay(base, 100))
	assert.Equal(t, time.Duration(0), backoffDelay(0, 3))
}
