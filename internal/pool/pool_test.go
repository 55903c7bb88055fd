package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func sumRegistry(timeout time.Duration) *Registry {
	r := NewRegistry(timeout)
	r.Register("sum", func(ctx context.Context, data any) (any, error) {
		nums, ok := data.([]float64)
		if !ok {
			return nil, errors.New("bad input")
		}
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})
	return r
}

func TestSynchronousFallback(t *testing.T) {
	r := sumRegistry(time.Second)

	t.Run("Nil Pool", func(t *testing.T) {
		res := r.Execute(context.Background(), nil, NewTask("sum", []float64{1, 2, 3}))
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if res.Value.(float64) != 6 {
			t.Errorf("value = %v, want 6", res.Value)
		}
	})

	t.Run("Stopped Pool", func(t *testing.T) {
		p := New(r, 2, 4)
		// Never started — must still compute correctly.
		res := r.Execute(context.Background(), p, NewTask("sum", []float64{4, 5}))
		if res.Err != nil || res.Value.(float64) != 9 {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestPoolExecution(t *testing.T) {
	r := sumRegistry(time.Second)
	p := New(r, 2, 8)
	p.Start()
	defer p.Stop()

	res := r.Execute(context.Background(), p, NewTask("sum", []float64{10, 20}))
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Value.(float64) != 30 {
		t.Errorf("value = %v, want 30", res.Value)
	}
	if res.TaskID == "" {
		t.Error("task ID missing from result")
	}
}

func TestSubmitRacingStop(t *testing.T) {
	r := sumRegistry(time.Second)

	// Submissions racing a concurrent Stop must never panic on the closed
	// inbox; they either run on a worker or fall back to synchronous.
	for round := 0; round < 50; round++ {
		p := New(r, 2, 1)
		p.Start()

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					res := r.Execute(context.Background(), p, NewTask("sum", []float64{1, 2}))
					if res.Err != nil {
						t.Error(res.Err)
						return
					}
					if res.Value.(float64) != 3 {
						t.Errorf("value = %v, want 3", res.Value)
						return
					}
				}
			}()
		}
		p.Stop()
		wg.Wait()
	}
}

func TestUnknownTaskType(t *testing.T) {
	r := sumRegistry(time.Second)
	res := r.Invoke(context.Background(), NewTask("never_registered", nil))
	if res.Err == nil {
		t.Fatal("expected error")
	}
	var te *TaskError
	if !errors.As(res.Err, &te) {
		t.Fatalf("error kind = %T, want *TaskError", res.Err)
	}
	if !errors.Is(res.Err, ErrUnknownTaskType) {
		t.Errorf("err = %v, want ErrUnknownTaskType", res.Err)
	}
}

func TestTaskTimeout(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context, data any) (any, error) {
		select {
		case <-time.After(time.Second):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	res := r.Invoke(context.Background(), NewTask("slow", nil))
	if !errors.Is(res.Err, ErrTaskTimeout) {
		t.Errorf("err = %v, want ErrTaskTimeout", res.Err)
	}
}

func TestMapBatchOrdering(t *testing.T) {
	r := sumRegistry(time.Second)

	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = NewTask("sum", []float64{float64(i), 1})
	}

	results := r.MapBatch(context.Background(), tasks, 4)
	if len(results) != len(tasks) {
		t.Fatalf("got %d results", len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("task %d: %v", i, res.Err)
		}
		if res.TaskID != tasks[i].ID {
			t.Errorf("result %d out of order", i)
		}
		if res.Value.(float64) != float64(i)+1 {
			t.Errorf("result %d = %v, want %v", i, res.Value, i+1)
		}
	}
}

func TestHandlerErrorIsTaskError(t *testing.T) {
	r := sumRegistry(time.Second)
	res := r.Invoke(context.Background(), NewTask("sum", "not a slice"))
	var te *TaskError
	if !errors.As(res.Err, &te) {
		t.Fatalf("error kind = %T, want *TaskError", res.Err)
	}
}
