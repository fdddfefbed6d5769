package stats

import (
	"github.com/stretchr/testify/mock"
)

type MockStats struct {
	mock.Mock
}

func (m *MockStats) Incr(name string) {
	m.Called(name)
}

func (m *MockStats) Decr(name string) {
	m.Called(name)
}

func (m *MockStats) Count(name string) {
	m.Called(name)
}
