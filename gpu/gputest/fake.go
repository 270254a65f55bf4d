// Package gputest provides a recording, in-memory implementation of the gpu
// device contract for use in tests. Every call is counted so tests can assert
// that redundant legacy calls never reach the device.
package gputest

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/retrofit/gpu"
)

// FakeDevice implements gpu.Device. The zero value is usable.
type FakeDevice struct {
	// FailBuffers makes CreateBuffer fail, for exhaustion-path tests.
	FailBuffers bool
	// FailPipelines makes CreatePipeline fail, for skipped-draw tests.
	FailPipelines bool
	// FailSubmit makes queue Execute calls fail.
	FailSubmit bool

	BufferCreates    int
	TextureCreates   int
	PipelineCreates  int
	AllocatorCreates int
	ListCreates      int

	Resources []*FakeResource
	Lists     []*FakeList
	Queues    [gpu.ListTypeCount]*FakeQueue
	Fences    []*FakeFence
}

var _ gpu.Device = &FakeDevice{}

func (d *FakeDevice) CreateBuffer(desc gpu.BufferDesc) (gpu.Resource, error) {
	if d.FailBuffers {
		return nil, errors.New("fake device: buffer creation forced to fail")
	}
	d.BufferCreates++
	r := &FakeResource{
		Desc: desc,
		Data: make([]byte, desc.Size),
	}
	d.Resources = append(d.Resources, r)
	return r, nil
}

func (d *FakeDevice) CreateTexture(desc gpu.TextureDesc) (gpu.Resource, error) {
	d.TextureCreates++
	size := desc.Width * desc.Height * desc.Format.TexelSize()
	r := &FakeResource{
		TextureDesc: desc,
		Data:        make([]byte, size),
		IsTexture:   true,
	}
	d.Resources = append(d.Resources, r)
	return r, nil
}

func (d *FakeDevice) CreateDescriptorBacking(kind gpu.DescriptorKind, capacity int, shaderVisible bool) (gpu.DescriptorBacking, error) {
	return &FakeDescriptorBacking{
		Kind:      kind,
		Capacity:  capacity,
		Visible:   shaderVisible,
		Increment: 32,
		CPUBase:   0x10000,
		GPUBase:   0x20000,
	}, nil
}

func (d *FakeDevice) CreateCommandAllocator(listType gpu.ListType) (gpu.CommandAllocator, error) {
	d.AllocatorCreates++
	return &FakeAllocator{ListType: listType}, nil
}

func (d *FakeDevice) CreateCommandList(listType gpu.ListType, allocator gpu.CommandAllocator) (gpu.CommandList, error) {
	d.ListCreates++
	l := &FakeList{ListType: listType, Allocator: allocator}
	d.Lists = append(d.Lists, l)
	return l, nil
}

func (d *FakeDevice) CreateFence(initialValue uint64) (gpu.Fence, error) {
	f := &FakeFence{Completed: initialValue}
	d.Fences = append(d.Fences, f)
	return f, nil
}

func (d *FakeDevice) CreatePipeline(desc gpu.PipelineStateDesc) (gpu.Pipeline, error) {
	if d.FailPipelines {
		return nil, errors.New("fake device: pipeline creation forced to fail")
	}
	d.PipelineCreates++
	return &FakePipeline{Desc: desc}, nil
}

func (d *FakeDevice) Queue(listType gpu.ListType) gpu.Queue {
	if d.Queues[listType] == nil {
		d.Queues[listType] = &FakeQueue{device: d, ListType: listType}
	}
	return d.Queues[listType]
}

func (d *FakeDevice) WaitIdle() error { return nil }

func (d *FakeDevice) Destroy() {}

// StateCalls sums the state-mutation calls recorded across every list ever
// created by this device. Tests for the change-detection gate assert this
// stays flat across redundant legacy calls.
func (d *FakeDevice) StateCalls() int {
	total := 0
	for _, l := range d.Lists {
		total += l.StateCalls
	}
	return total
}

// BarrierCount sums individual barriers across all recorded batches.
func (d *FakeDevice) BarrierCount() int {
	total := 0
	for _, l := range d.Lists {
		for _, batch := range l.BarrierBatches {
			total += len(batch)
		}
	}
	return total
}

// DrawCount sums draw and indexed-draw calls across all lists.
func (d *FakeDevice) DrawCount() int {
	total := 0
	for _, l := range d.Lists {
		total += len(l.Draws) + len(l.IndexedDraws)
	}
	return total
}

// FakeResource is an in-memory resource backed by a byte slice.
type FakeResource struct {
	Desc        gpu.BufferDesc
	TextureDesc gpu.TextureDesc
	IsTexture   bool
	Data        []byte
	Writes      int
	Destroyed   bool
}

var _ gpu.Resource = &FakeResource{}

func (r *FakeResource) Size() int { return len(r.Data) }

func (r *FakeResource) Write(data []byte, offset int) error {
	if r.Destroyed {
		return errors.New("fake resource: write after destroy")
	}
	if offset < 0 || offset+len(data) > len(r.Data) {
		return errors.Newf("fake resource: write of %d bytes at offset %d overruns size %d", len(data), offset, len(r.Data))
	}
	copy(r.Data[offset:], data)
	r.Writes++
	return nil
}

func (r *FakeResource) Destroy() { r.Destroyed = true }

// FakeDescriptorBacking reports fixed base addresses and increment.
type FakeDescriptorBacking struct {
	Kind      gpu.DescriptorKind
	Capacity  int
	Visible   bool
	Increment int
	CPUBase   uint64
	GPUBase   uint64
	Destroyed bool
}

var _ gpu.DescriptorBacking = &FakeDescriptorBacking{}

func (b *FakeDescriptorBacking) CPUStart() uint64    { return b.CPUBase }
func (b *FakeDescriptorBacking) GPUStart() uint64    { return b.GPUBase }
func (b *FakeDescriptorBacking) HandleIncrement() int { return b.Increment }
func (b *FakeDescriptorBacking) Destroy()            { b.Destroyed = true }

// FakeAllocator counts resets.
type FakeAllocator struct {
	ListType  gpu.ListType
	Resets    int
	Destroyed bool
}

var _ gpu.CommandAllocator = &FakeAllocator{}

func (a *FakeAllocator) Reset() error {
	a.Resets++
	return nil
}

func (a *FakeAllocator) Destroy() { a.Destroyed = true }

// DrawRecord captures one non-indexed draw.
type DrawRecord struct {
	VertexCount int
	FirstVertex int
}

// IndexedDrawRecord captures one indexed draw.
type IndexedDrawRecord struct {
	IndexCount int
	FirstIndex int
	BaseVertex int
	// IndexBuffer is the buffer bound when the draw was recorded.
	IndexBuffer gpu.Resource
	Format      gpu.IndexFormat
}

// CopyRecord captures one buffer copy.
type CopyRecord struct {
	Dst       gpu.Resource
	DstOffset int
	Src       gpu.Resource
	SrcOffset int
	Size      int
}

// FakeList records everything recorded into it.
type FakeList struct {
	ListType  gpu.ListType
	Allocator gpu.CommandAllocator

	StateCalls     int
	BarrierBatches [][]gpu.Barrier
	Draws          []DrawRecord
	IndexedDraws   []IndexedDrawRecord
	Copies         []CopyRecord
	// Textures holds the last resource bound to each texture unit.
	Textures  map[int]gpu.Resource
	Resets    int
	Closes    int
	Destroyed bool

	boundIndexBuffer gpu.Resource
	boundIndexFormat gpu.IndexFormat
}

var _ gpu.CommandList = &FakeList{}

func (l *FakeList) Reset(allocator gpu.CommandAllocator) error {
	l.Allocator = allocator
	l.Resets++
	return nil
}

func (l *FakeList) Barriers(barriers []gpu.Barrier) {
	batch := make([]gpu.Barrier, len(barriers))
	copy(batch, barriers)
	l.BarrierBatches = append(l.BarrierBatches, batch)
}

func (l *FakeList) SetPipeline(p gpu.Pipeline)  { l.StateCalls++ }
func (l *FakeList) SetViewport(v gpu.Viewport)  { l.StateCalls++ }

func (l *FakeList) SetVertexBuffer(r gpu.Resource, strideBytes int) { l.StateCalls++ }

func (l *FakeList) SetIndexBuffer(r gpu.Resource, format gpu.IndexFormat) {
	l.StateCalls++
	l.boundIndexBuffer = r
	l.boundIndexFormat = format
}

func (l *FakeList) SetConstantBuffer(slot int, r gpu.Resource) { l.StateCalls++ }

func (l *FakeList) SetTexture(unit int, r gpu.Resource) {
	l.StateCalls++
	if l.Textures == nil {
		l.Textures = make(map[int]gpu.Resource)
	}
	l.Textures[unit] = r
}

func (l *FakeList) Draw(vertexCount, firstVertex int) {
	l.Draws = append(l.Draws, DrawRecord{VertexCount: vertexCount, FirstVertex: firstVertex})
}

func (l *FakeList) DrawIndexed(indexCount, firstIndex, baseVertex int) {
	l.IndexedDraws = append(l.IndexedDraws, IndexedDrawRecord{
		IndexCount:  indexCount,
		FirstIndex:  firstIndex,
		BaseVertex:  baseVertex,
		IndexBuffer: l.boundIndexBuffer,
		Format:      l.boundIndexFormat,
	})
}

func (l *FakeList) CopyBuffer(dst gpu.Resource, dstOffset int, src gpu.Resource, srcOffset int, size int) {
	l.Copies = append(l.Copies, CopyRecord{Dst: dst, DstOffset: dstOffset, Src: src, SrcOffset: srcOffset, Size: size})
}

func (l *FakeList) CopyBufferToTexture(dst gpu.Resource, src gpu.Resource, region gpu.TextureRegion) {
	l.Copies = append(l.Copies, CopyRecord{Dst: dst, Src: src, Size: len(srcData(src))})
}

func srcData(r gpu.Resource) []byte {
	fake, ok := r.(*FakeResource)
	if !ok {
		return nil
	}
	return fake.Data
}

func (l *FakeList) Close() error {
	l.Closes++
	return nil
}

func (l *FakeList) Destroy() { l.Destroyed = true }

// FakeQueue records submissions and completes fences immediately on Signal,
// simulating a GPU that finishes work as soon as it is submitted.
type FakeQueue struct {
	device   *FakeDevice
	ListType gpu.ListType

	Executed [][]gpu.CommandList
	Signals  int
}

var _ gpu.Queue = &FakeQueue{}

func (q *FakeQueue) Execute(lists []gpu.CommandList) error {
	if q.device != nil && q.device.FailSubmit {
		return errors.New("fake queue: submission forced to fail")
	}
	batch := make([]gpu.CommandList, len(lists))
	copy(batch, lists)
	q.Executed = append(q.Executed, batch)
	return nil
}

func (q *FakeQueue) Signal(f gpu.Fence, value uint64) error {
	q.Signals++
	fake, ok := f.(*FakeFence)
	if !ok {
		return errors.New("fake queue: signal on non-fake fence")
	}
	fake.Complete(value)
	return nil
}

// FakePipeline is an opaque pipeline carrying its descriptor for inspection.
type FakePipeline struct {
	Desc      gpu.PipelineStateDesc
	Destroyed bool
}

var _ gpu.Pipeline = &FakePipeline{}

func (p *FakePipeline) Destroy() { p.Destroyed = true }

// FakeFence is a timeline fence whose completion is driven by Signal calls.
type FakeFence struct {
	Completed uint64
	Waits     int
	Destroyed bool
}

var _ gpu.Fence = &FakeFence{}

func (f *FakeFence) CompletedValue() uint64 { return f.Completed }

func (f *FakeFence) Wait(value uint64) error {
	f.Waits++
	// The fake GPU is always done by the time the CPU waits.
	if value > f.Completed {
		f.Completed = value
	}
	return nil
}

func (f *FakeFence) Complete(value uint64) {
	if value > f.Completed {
		f.Completed = value
	}
}

func (f *FakeFence) Destroy() { f.Destroyed = true }
