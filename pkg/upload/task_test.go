package upload

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sgl-project/objclient/pkg/connection/connectiontest"
	"github.com/sgl-project/objclient/pkg/request"
	"github.com/sgl-project/objclient/pkg/requests"
	"github.com/sgl-project/objclient/pkg/storage"
	"github.com/sgl-project/objclient/pkg/storagetest"
)

var _ = Describe("Task", func() {
	var (
		server   *resumableServer
		factory  *connectiontest.Factory
		exec     *request.Executor
		progress *progressRecorder
		loc      storage.Location
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		server = &resumableServer{chunkSteps: map[int]connectiontest.Step{}}
		factory = connectiontest.NewFactory()
		factory.Handler = server.handle
		var err error
		exec, err = request.NewExecutor(factory.New, request.WithRetryPolicy(testPolicy()))
		Expect(err).NotTo(HaveOccurred())
		progress = &progressRecorder{}
		loc = storage.NewLocation("bkt", "dir/file.bin")
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	})

	AfterEach(func() {
		cancel()
	})

	newTask := func(src *Source, opts ...storage.UploadOption) *Task {
		opts = append([]storage.UploadOption{
			storage.WithChunkSize(4),
			storage.WithUploadProgress(progress),
		}, opts...)
		task, err := New(exec, testConfig, loc, src, opts...)
		Expect(err).NotTo(HaveOccurred())
		return task
	}

	Context("with a known size", func() {
		It("sends fixed-size chunks in order and completes with metadata", func() {
			task := newTask(FromBytes([]byte("0123456789ab")))
			Expect(task.Snapshot().State).To(Equal(StateNotStarted))
			Expect(task.Start(ctx)).To(Succeed())

			result, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Location).To(Equal(loc))
			Expect(result.Metadata.Size).To(Equal(int64(12)))

			Expect(chunkRequests(factory)).To(Equal([]chunkRequest{
				{Command: requests.CommandUpload, Offset: "0", Body: "0123"},
				{Command: requests.CommandUpload, Offset: "4", Body: "4567"},
				{Command: requests.CommandUploadFinalize, Offset: "8", Body: "89ab"},
			}))

			start := factory.Requests()[0]
			Expect(start.Header.Get(requests.HeaderUploadContentLength)).To(Equal("12"))

			updates, done, perr := progress.snapshot()
			Expect(updates).To(Equal([][2]int64{{4, 12}, {8, 12}, {12, 12}}))
			Expect(done).To(BeTrue())
			Expect(perr).NotTo(HaveOccurred())

			snap := task.Snapshot()
			Expect(snap.State).To(Equal(StateCompleted))
			Expect(snap.BytesTransferred).To(Equal(int64(12)))
			Expect(snap.SessionURL).To(Equal(sessionURL))
		})

		It("uploads an empty object with a single finalize", func() {
			task := newTask(FromBytes(nil))
			Expect(task.Start(ctx)).To(Succeed())
			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunkRequests(factory)).To(Equal([]chunkRequest{
				{Command: requests.CommandUploadFinalize, Offset: "0", Body: ""},
			}))
		})

		It("fails when the service reports a different final size", func() {
			server.reportSize = 3
			task := newTask(FromBytes([]byte("abcdef")))
			Expect(task.Start(ctx)).To(Succeed())

			_, err := task.Wait(ctx)
			Expect(err).To(storagetest.HaveStorageCode(storage.CodeServerFileWrongSize))
			Expect(task.Snapshot().State).To(Equal(StateFailed))
		})
	})

	Context("with an unknown size", func() {
		It("finalizes the last chunk using lookahead", func() {
			task := newTask(FromReader(strings.NewReader("0123456789")))
			Expect(task.Start(ctx)).To(Succeed())

			result, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Metadata.Size).To(Equal(int64(10)))

			Expect(chunkRequests(factory)).To(Equal([]chunkRequest{
				{Command: requests.CommandUpload, Offset: "0", Body: "0123"},
				{Command: requests.CommandUpload, Offset: "4", Body: "4567"},
				{Command: requests.CommandUploadFinalize, Offset: "8", Body: "89"},
			}))
			Expect(factory.Requests()[0].Header.Values(requests.HeaderUploadContentLength)).To(BeEmpty())

			updates, _, _ := progress.snapshot()
			Expect(updates).To(Equal([][2]int64{{4, -1}, {8, -1}, {10, 10}}))
		})

		It("finalizes on a chunk boundary without an empty trailing chunk", func() {
			task := newTask(FromReader(strings.NewReader("01234567")))
			Expect(task.Start(ctx)).To(Succeed())
			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunkRequests(factory)).To(Equal([]chunkRequest{
				{Command: requests.CommandUpload, Offset: "0", Body: "0123"},
				{Command: requests.CommandUploadFinalize, Offset: "4", Body: "4567"},
			}))
		})
	})

	Context("when paused", func() {
		It("withholds the next chunk until resumed and then sends exactly the remaining chunks", func() {
			task := newTask(FromBytes([]byte("0123456789ab")))
			paused := make(chan struct{})
			progress.onUpdate = func(n int) {
				defer GinkgoRecover()
				if n == 1 {
					Expect(task.Pause()).To(Succeed())
					close(paused)
				}
			}
			Expect(task.Start(ctx)).To(Succeed())

			Eventually(paused).Should(BeClosed())
			Expect(task.Snapshot().State).To(Equal(StatePaused))
			Consistently(func() int { return len(chunkRequests(factory)) }, 100*time.Millisecond).Should(Equal(1))
			Expect(task.Done()).NotTo(BeClosed())

			Expect(task.Resume()).To(Succeed())
			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())

			chunks := chunkRequests(factory)
			Expect(chunks).To(HaveLen(3))
			Expect(chunks[0].Offset).To(Equal("0"))
			Expect(chunks[1].Offset).To(Equal("4"))
			Expect(chunks[2].Offset).To(Equal("8"))
			Expect(chunks[2].Command).To(Equal(requests.CommandUploadFinalize))
		})

		It("lets the chunk in flight complete", func() {
			step := connectiontest.Blocked(connectiontest.Respond(200, "", requests.HeaderUploadStatus, requests.UploadStatusActive))
			server.chunkSteps[0] = step
			task := newTask(FromBytes([]byte("01234567")))
			Expect(task.Start(ctx)).To(Succeed())

			Eventually(step.Started).Should(BeClosed())
			Expect(task.Pause()).To(Succeed())
			close(step.Gate)

			Eventually(func() int64 { return task.Snapshot().BytesTransferred }).Should(Equal(int64(4)))
			Expect(factory.Aborted()).To(BeZero())
			Consistently(func() int { return len(chunkRequests(factory)) }, 100*time.Millisecond).Should(Equal(1))

			Expect(task.Resume()).To(Succeed())
			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunkRequests(factory)).To(HaveLen(2))
		})

		It("completes when paused during the final chunk", func() {
			step := connectiontest.Blocked(connectiontest.Respond(200, objectResource(4),
				requests.HeaderUploadStatus, requests.UploadStatusFinal,
				requests.HeaderUploadSizeReceived, "4"))
			server.chunkSteps[0] = step
			task := newTask(FromBytes([]byte("0123")))
			Expect(task.Start(ctx)).To(Succeed())

			Eventually(step.Started).Should(BeClosed())
			Expect(task.Pause()).To(Succeed())
			close(step.Gate)

			result, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Metadata.Size).To(Equal(int64(4)))
			Expect(task.Snapshot().State).To(Equal(StateCompleted))
			Expect(errors.Is(task.Resume(), ErrInvalidTransition)).To(BeTrue())
		})
	})

	Context("when canceled", func() {
		It("aborts the chunk in flight and sends nothing afterwards", func() {
			step := connectiontest.Blocked(connectiontest.Respond(200, "", requests.HeaderUploadStatus, requests.UploadStatusActive))
			server.chunkSteps[1] = step
			task := newTask(FromBytes([]byte("0123456789ab")))
			Expect(task.Start(ctx)).To(Succeed())

			Eventually(step.Started).Should(BeClosed())
			Expect(task.Cancel()).To(Succeed())
			sent := len(factory.Requests())

			_, err := task.Wait(ctx)
			Expect(err).To(storagetest.BeCanceledError())
			Expect(task.Snapshot().State).To(Equal(StateCanceled))
			Expect(factory.Aborted()).To(Equal(1))
			Consistently(func() int { return len(factory.Requests()) }, 100*time.Millisecond).Should(Equal(sent))
			Expect(chunkRequests(factory)).To(HaveLen(2))

			_, _, perr := progress.snapshot()
			Expect(perr).To(storagetest.BeCanceledError())
		})

		It("drops the result of a chunk that finishes while the task is canceled", func() {
			var task *Task
			hook := &decodeHook{factory: factory, n: 1, hook: func() {
				defer GinkgoRecover()
				Expect(task.Cancel()).To(Succeed())
			}}
			var err error
			exec, err = request.NewExecutor(hook.New, request.WithRetryPolicy(testPolicy()))
			Expect(err).NotTo(HaveOccurred())
			task = newTask(FromBytes([]byte("0123456789ab")))
			Expect(task.Start(ctx)).To(Succeed())

			_, err = task.Wait(ctx)
			Expect(err).To(storagetest.BeCanceledError())
			snap := task.Snapshot()
			Expect(snap.State).To(Equal(StateCanceled))
			Expect(snap.BytesTransferred).To(Equal(int64(4)))

			Consistently(progress.eventLog, 50*time.Millisecond).Should(Equal([]string{"update", "error"}))
			updates, _, _ := progress.snapshot()
			Expect(updates).To(Equal([][2]int64{{4, 12}}))
			Expect(chunkRequests(factory)).To(HaveLen(2))
		})

		It("delivers the cancellation after an Update that triggered it", func() {
			task := newTask(FromBytes([]byte("0123456789ab")))
			progress.onUpdate = func(n int) {
				defer GinkgoRecover()
				if n == 1 {
					Expect(task.Cancel()).To(Succeed())
				}
			}
			Expect(task.Start(ctx)).To(Succeed())

			_, err := task.Wait(ctx)
			Expect(err).To(storagetest.BeCanceledError())
			Expect(progress.eventLog()).To(Equal([]string{"update", "error"}))
		})

		It("can be canceled while paused", func() {
			task := newTask(FromBytes([]byte("01234567")))
			paused := make(chan struct{})
			progress.onUpdate = func(n int) {
				defer GinkgoRecover()
				if n == 1 {
					Expect(task.Pause()).To(Succeed())
					close(paused)
				}
			}
			Expect(task.Start(ctx)).To(Succeed())
			Eventually(paused).Should(BeClosed())

			Expect(task.Cancel()).To(Succeed())
			Eventually(task.Done()).Should(BeClosed())
			Consistently(func() int { return len(chunkRequests(factory)) }, 100*time.Millisecond).Should(Equal(1))
		})

		It("settles as canceled when the start context ends", func() {
			step := connectiontest.Blocked(connectiontest.Respond(200, ""))
			server.chunkSteps[0] = step
			runCtx, stop := context.WithCancel(ctx)
			task := newTask(FromBytes([]byte("0123")))
			Expect(task.Start(runCtx)).To(Succeed())

			Eventually(step.Started).Should(BeClosed())
			stop()

			_, err := task.Wait(ctx)
			Expect(err).To(storagetest.BeCanceledError())
			Expect(task.Snapshot().State).To(Equal(StateCanceled))
		})
	})

	Context("when a chunk keeps failing", func() {
		It("fails with the retry limit and issues no further chunks", func() {
			for i := 1; i <= testPolicy().MaxAttempts; i++ {
				server.chunkSteps[i] = connectiontest.NetworkFailure()
			}
			task := newTask(FromBytes([]byte("0123456789ab")))
			Expect(task.Start(ctx)).To(Succeed())

			_, err := task.Wait(ctx)
			Expect(storage.IsRetryLimitExceeded(err)).To(BeTrue())
			Expect(task.Snapshot().State).To(Equal(StateFailed))
			Expect(factory.Created()).To(Equal(1 + 1 + testPolicy().MaxAttempts))

			_, done, perr := progress.snapshot()
			Expect(done).To(BeFalse())
			Expect(perr).To(HaveOccurred())
		})

		It("retries a transient chunk failure at the same offset", func() {
			server.chunkSteps[1] = connectiontest.Respond(503, "")
			task := newTask(FromBytes([]byte("01234567")))
			Expect(task.Start(ctx)).To(Succeed())

			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			offsets := []string{}
			for _, c := range chunkRequests(factory) {
				offsets = append(offsets, c.Offset)
			}
			Expect(offsets).To(Equal([]string{"0", "4", "4"}))
		})
	})

	Context("when recovering a session", func() {
		It("continues from the offset the service persisted", func() {
			server.persisted = 4
			task := newTask(FromBytes([]byte("01234567")), storage.WithSessionURL(sessionURL))
			Expect(task.Start(ctx)).To(Succeed())

			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(factory.Requests()[0].Header.Get(requests.HeaderUploadCommand)).To(Equal(requests.CommandQuery))
			Expect(chunkRequests(factory)).To(Equal([]chunkRequest{
				{Command: requests.CommandUploadFinalize, Offset: "4", Body: "4567"},
			}))
		})

		It("skips already persisted bytes of a stream", func() {
			server.persisted = 6
			task := newTask(FromReader(strings.NewReader("0123456789")), storage.WithSessionURL(sessionURL))
			Expect(task.Start(ctx)).To(Succeed())

			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunkRequests(factory)).To(Equal([]chunkRequest{
				{Command: requests.CommandUploadFinalize, Offset: "6", Body: "6789"},
			}))
		})
	})

	Context("state transitions", func() {
		It("rejects controls that do not apply to the current state", func() {
			task := newTask(FromBytes([]byte("0123")))
			Expect(errors.Is(task.Pause(), ErrInvalidTransition)).To(BeTrue())
			Expect(errors.Is(task.Resume(), ErrInvalidTransition)).To(BeTrue())
			Expect(errors.Is(task.Cancel(), ErrInvalidTransition)).To(BeTrue())

			Expect(task.Start(ctx)).To(Succeed())
			Expect(errors.Is(task.Start(ctx), ErrInvalidTransition)).To(BeTrue())

			_, err := task.Wait(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(task.Pause(), ErrInvalidTransition)).To(BeTrue())
			Expect(errors.Is(task.Resume(), ErrInvalidTransition)).To(BeTrue())
			Expect(errors.Is(task.Cancel(), ErrInvalidTransition)).To(BeTrue())
			Expect(errors.Is(task.Start(ctx), ErrInvalidTransition)).To(BeTrue())
			Expect(task.Snapshot().State).To(Equal(StateCompleted))
		})

		It("rejects misuse before any request", func() {
			_, err := New(exec, testConfig, storage.NewLocation("bkt", ""), FromBytes(nil))
			Expect(err).To(storagetest.HaveStorageCode(storage.CodeInvalidRootOperation))

			_, err = New(exec, testConfig, loc, FromBytes(nil), storage.WithChunkSize(-1))
			Expect(err).To(storagetest.HaveStorageCode(storage.CodeInvalidArgument))
			Expect(factory.Created()).To(BeZero())
		})
	})

	It("records transfer metrics", func() {
		reg := prometheus.NewRegistry()
		metrics := request.NewMetrics("test", reg)
		var err error
		exec, err = request.NewExecutor(factory.New, request.WithRetryPolicy(testPolicy()), request.WithMetrics(metrics))
		Expect(err).NotTo(HaveOccurred())

		task := newTask(FromBytes([]byte("012345")))
		Expect(task.Start(ctx)).To(Succeed())
		_, err = task.Wait(ctx)
		Expect(err).NotTo(HaveOccurred())

		count, err := testutil.GatherAndCount(reg, "test_upload_bytes_total", "test_upload_transfers_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})
})
