// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Leaf Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/leafkit/leaf/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var migrator *store.Migrator

	BeforeAll(func() {
		var err error
		migrator, err = store.NewMigrator(databaseURL)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(migrator.Close()).To(Succeed()) })
		Expect(migrator.Down()).To(Succeed())
	})

	It("is at version zero after a full rollback", func() {
		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(BeZero())
		Expect(dirty).To(BeFalse())
	})

	It("applies, steps and rolls back", func() {
		all, err := store.Versions()
		Expect(err).NotTo(HaveOccurred())
		latest := all[len(all)-1]

		Expect(migrator.Up()).To(Succeed())
		version, _, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(version).To(Equal(latest))

		Expect(migrator.Steps(-1)).To(Succeed())
		version, _, _ = migrator.Version()
		Expect(version).To(Equal(latest - 1))

		Expect(migrator.Down()).To(Succeed())
		version, _, _ = migrator.Version()
		Expect(version).To(BeZero())
	})
})

var _ = Describe("Pool", Ordered, func() {
	var pool *store.Pool

	BeforeAll(func() {
		Expect(store.Migrate(databaseURL, nil)).To(Succeed())

		cfg := store.DefaultConfig()
		cfg.URL = databaseURL
		cfg.PingBackoff = 50 * time.Millisecond

		var err error
		pool, err = store.Open(context.Background(), cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { Expect(pool.Stop(context.Background())).To(Succeed()) })
	})

	It("answers readiness probes", func() {
		Expect(pool.Ready(context.Background())).To(BeTrue())
	})

	It("records instance lifetimes", func(ctx SpecContext) {
		id := ulid.Make()
		Expect(pool.RecordStart(ctx, id, "1.0.0", "test-host")).To(Succeed())

		err := pool.RecordStart(ctx, id, "1.0.0", "test-host")
		Expect(err).To(MatchError(ContainSubstring("instance already recorded")))

		instances, err := pool.Instances(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(instances).NotTo(BeEmpty())
		Expect(instances[0].ID).To(Equal(id))
		Expect(instances[0].Running()).To(BeTrue())

		Expect(pool.RecordStop(ctx, id, "signal")).To(Succeed())
		instances, err = pool.Instances(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(instances[0].Running()).To(BeFalse())
		Expect(instances[0].ExitReason).To(Equal("signal"))
	})
})
