package control

import (
	"sync"
	"testing"

	"github.com/xtxerr/powerscope/internal/errors"
	"github.com/xtxerr/powerscope/internal/wire"
)

func TestStoreSetAndRead(t *testing.T) {
	s := NewStore(wire.ControlVector{1, 2, 3, 4, 5, 6})

	if got := s.ControlVector(); got != (wire.ControlVector{1, 2, 3, 4, 5, 6}) {
		t.Errorf("expected initial values, got %v", got)
	}

	s.Set(wire.ControlVector{})
	if err := s.SetField(4, 9); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGroup(1, [3]float64{7, 8, 9}); err != nil {
		t.Fatal(err)
	}

	want := wire.ControlVector{7, 8, 9, 0, 9, 0}
	if got := s.ControlVector(); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
	if s.Version() != 3 {
		t.Errorf("expected version=3, got %d", s.Version())
	}
}

func TestStoreRejectsBadPositions(t *testing.T) {
	s := NewStore(wire.ControlVector{})

	if err := s.SetField(6, 1); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if err := s.SetGroup(0, [3]float64{}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if s.Version() != 0 {
		t.Errorf("expected no change, got version=%d", s.Version())
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(wire.ControlVector{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_ = s.SetField(i%wire.ControlFields, float64(j))
				_ = s.ControlVector()
			}
		}(i)
	}
	wg.Wait()

	if s.Version() != 4000 {
		t.Errorf("expected version=4000, got %d", s.Version())
	}
}
