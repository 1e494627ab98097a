// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lttb implements Largest-Triangle-Three-Buckets downsampling
// for numeric time/step series, as used by the query server's metrics
// endpoint to keep large runs' charts responsive.
package lttb

// Point is one sample in a series to downsample.
type Point struct {
	X float64
	Y float64
}

// Downsample reduces points to min(target, len(points)) samples using
// the Largest-Triangle-Three-Buckets algorithm, always preserving both
// endpoints where the target allows it. If len(points) <= target,
// points is returned unchanged (a copy, so the caller can mutate it
// freely). target of 0, 1, and 2 are handled explicitly rather than
// falling through to the bucketing algorithm, which needs at least
// two interior buckets to operate.
func Downsample(points []Point, target int) []Point {
	n := len(points)
	if n == 0 || target >= n {
		out := make([]Point, n)
		copy(out, points)
		return out
	}
	if target <= 0 {
		return []Point{}
	}
	if target == 1 {
		return []Point{points[0]}
	}
	if target == 2 {
		return []Point{points[0], points[n-1]}
	}

	out := make([]Point, 0, target)
	out = append(out, points[0])

	// Bucket size for every point strictly between the two endpoints.
	bucketSize := float64(n-2) / float64(target-2)

	bucketStart := 1
	prevSelected := points[0]

	for i := 0; i < target-2; i++ {
		bucketEnd := int(float64(i+1)*bucketSize) + 1
		if bucketEnd > n-1 {
			bucketEnd = n - 1
		}

		// Average point of the NEXT bucket, used as one triangle vertex.
		nextStart := bucketEnd
		nextEnd := int(float64(i+2)*bucketSize) + 1
		if nextEnd > n {
			nextEnd = n
		}
		if nextStart >= nextEnd {
			nextEnd = nextStart + 1
			if nextEnd > n {
				nextEnd = n
			}
		}
		avgX, avgY := average(points[nextStart:nextEnd])

		bestIdx := bucketStart
		bestArea := -1.0
		for j := bucketStart; j < bucketEnd; j++ {
			area := triangleArea(prevSelected, points[j], Point{X: avgX, Y: avgY})
			if area > bestArea {
				bestArea = area
				bestIdx = j
			}
		}

		out = append(out, points[bestIdx])
		prevSelected = points[bestIdx]
		bucketStart = bucketEnd
	}

	out = append(out, points[n-1])
	return out
}

func average(pts []Point) (x, y float64) {
	if len(pts) == 0 {
		return 0, 0
	}
	for _, p := range pts {
		x += p.X
		y += p.Y
	}
	n := float64(len(pts))
	return x / n, y / n
}

// triangleArea returns twice the absolute area of the triangle formed by
// a, b, c; callers only compare magnitudes so the constant factor of 2
// is immaterial.
func triangleArea(a, b, c Point) float64 {
	area := (a.X-c.X)*(b.Y-a.Y) - (a.X-b.X)*(c.Y-a.Y)
	if area < 0 {
		return -area
	}
	return area
}
