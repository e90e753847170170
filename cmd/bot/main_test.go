package main

import (
	"math/rand"
	"testing"
)

func TestRandomStroke_StaysInGrid(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		s := randomStroke(r, 7, 5, 4)
		for _, v := range []int{s.X0, s.X1} {
			if v < 0 || v >= 5 {
				t.Fatalf("x out of grid: %+v", s)
			}
		}
		for _, v := range []int{s.Y0, s.Y1} {
			if v < 0 || v >= 7 {
				t.Fatalf("y out of grid: %+v", s)
			}
		}
	}
}
