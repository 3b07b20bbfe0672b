// Package heatmap は atendimento の発生地点を近接グループにまとめます。
package heatmap

import (
	"math"
	"sort"

	"atende/model"
)

const earthRadiusKm = 6371.0

// DistanceKm は 2 点間の大円距離 (haversine) です。
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

func valid(p model.HeatPoint) bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Cluster は未処理の点を起点に、起点から radiusKm 以内の未処理点を吸収していきます。
// 中心は重み付き平均、count は重みの合計。不正な座標は捨てます。
// 重み 0 以下は 1 として扱います。結果は count の降順 (同数は入力順)。
func Cluster(points []model.HeatPoint, radiusKm float64) []model.HeatCluster {
	pts := make([]model.HeatPoint, 0, len(points))
	for _, p := range points {
		if !valid(p) {
			continue
		}
		if p.Weight <= 0 {
			p.Weight = 1
		}
		pts = append(pts, p)
	}

	visited := make([]bool, len(pts))
	clusters := []model.HeatCluster{}
	for i, seed := range pts {
		if visited[i] {
			continue
		}
		visited[i] = true
		sumW := seed.Weight
		sumLat := seed.Latitude * seed.Weight
		sumLng := seed.Longitude * seed.Weight

		for j := i + 1; j < len(pts); j++ {
			if visited[j] {
				continue
			}
			p := pts[j]
			if DistanceKm(seed.Latitude, seed.Longitude, p.Latitude, p.Longitude) <= radiusKm {
				visited[j] = true
				sumW += p.Weight
				sumLat += p.Latitude * p.Weight
				sumLng += p.Longitude * p.Weight
			}
		}
		clusters = append(clusters, model.HeatCluster{
			Latitude:  sumLat / sumW,
			Longitude: sumLng / sumW,
			Count:     sumW,
		})
	}

	sort.SliceStable(clusters, func(a, b int) bool { return clusters[a].Count > clusters[b].Count })
	return clusters
}
