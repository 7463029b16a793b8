package graph

import (
	"context"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	convey.Convey("三元组写入与探索", t, func() {
		s := NewMemoryStore()
		for _, tr := range []Triplet{
			{"AWEL", "is part of", "GPT-DB"},
			{"GPT-DB", "written in", "Go"},
			{"Go", "created by", "Google"},
			{"RAG", "uses", "GPT-DB"},
			{" AWEL ", "is part of", "GPT-DB"},
		} {
			convey.So(s.InsertTriplet(ctx, tr), convey.ShouldBeNil)
		}

		ts, _ := s.GetTriplets(ctx, "AWEL")
		convey.So(ts, convey.ShouldHaveLength, 1)

		convey.Convey("按深度向外探索", func() {
			g, err := s.Explore(ctx, []string{"AWEL", "unknown"}, ExploreOptions{Depth: 2})
			convey.So(err, convey.ShouldBeNil)
			convey.So(g.Edges, convey.ShouldResemble, []Triplet{
				{"AWEL", "is part of", "GPT-DB"},
				{"GPT-DB", "written in", "Go"},
			})
			convey.So(g.Vertices, convey.ShouldResemble, []string{"AWEL", "GPT-DB", "Go"})
			convey.So(g.Format(), convey.ShouldEqual, "(AWEL)-[is part of]->(GPT-DB)\n(GPT-DB)-[written in]->(Go)")
		})

		convey.Convey("双向探索与数量限制", func() {
			g, _ := s.Explore(ctx, []string{"GPT-DB"}, ExploreOptions{Direction: DirectionBoth, Depth: 1})
			convey.So(g.Edges, convey.ShouldHaveLength, 3)

			g, _ = s.Explore(ctx, []string{"GPT-DB"}, ExploreOptions{Direction: DirectionBoth, Limit: 2})
			convey.So(g.Edges, convey.ShouldHaveLength, 2)

			g, _ = s.Explore(ctx, []string{"GPT-DB"}, ExploreOptions{Direction: DirectionIn, Depth: 1, Fanout: 1})
			convey.So(g.Edges, convey.ShouldHaveLength, 1)
		})

		convey.Convey("未知起点返回空图", func() {
			g, _ := s.Explore(ctx, []string{"nothing"}, ExploreOptions{})
			convey.So(g.Empty(), convey.ShouldBeTrue)
			convey.So(g.Format(), convey.ShouldEqual, "")
		})

		convey.Convey("删除与清空", func() {
			convey.So(s.DeleteTriplet(ctx, Triplet{"AWEL", "is part of", "GPT-DB"}), convey.ShouldBeNil)
			ts, _ := s.GetTriplets(ctx, "AWEL")
			convey.So(ts, convey.ShouldBeEmpty)
			convey.So(s.Drop(ctx), convey.ShouldBeNil)
			g, _ := s.Explore(ctx, []string{"GPT-DB"}, ExploreOptions{})
			convey.So(g.Empty(), convey.ShouldBeTrue)
		})
	})
}
