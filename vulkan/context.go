// Package vulkan provides the Vulkan resource backend: instance and device
// bring-up, heap-class to memory-type mapping, and buffer/image resources
// with mapped-write support. Queue, command-buffer and pipeline plumbing is
// owned by the host's device layer; this package covers the memory side.
package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"github.com/vkngwrapper/extensions/v2/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v2/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v2/khr_portability_subset"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/retrofit/gpu"
)

// CreateOptions configures context bring-up.
type CreateOptions struct {
	AppName string
	// EnableValidation requests the debug-utils messenger. Messages are
	// forwarded to the logger and, when set, the MessageSink.
	EnableValidation bool
	MessageSink      gpu.MessageSink
}

// Context owns the Vulkan instance, physical device and logical device the
// resource backend allocates from.
type Context struct {
	logger *slog.Logger
	sink   gpu.MessageSink

	instance       core1_0.Instance
	messenger      ext_debug_utils.DebugUtilsMessenger
	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device

	graphicsFamily      int
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties
	nonCoherentAtomSize int

	allocationCallbacks *driver.AllocationCallbacks
}

// NewContext creates the instance and logical device. Portability extensions
// are enabled when present so the backend runs on MoltenVK hosts.
func NewContext(logger *slog.Logger, options CreateOptions) (*Context, error) {
	loader, err := core.CreateSystemLoader()
	if err != nil {
		return nil, errors.Wrap(err, "loading the Vulkan runtime")
	}

	ctx := &Context{
		logger: logger,
		sink:   options.MessageSink,
	}

	instanceExtensions, _, err := loader.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating instance extensions")
	}

	var instanceExtensionNames []string
	var flags core1_0.InstanceCreateFlags
	if options.EnableValidation {
		instanceExtensionNames = append(instanceExtensionNames, ext_debug_utils.ExtensionName)
	}
	_, ok := instanceExtensions[khr_portability_enumeration.ExtensionName]
	if ok {
		instanceExtensionNames = append(instanceExtensionNames, khr_portability_enumeration.ExtensionName)
		flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	instance, _, err := loader.CreateInstance(ctx.allocationCallbacks, core1_0.InstanceCreateInfo{
		ApplicationName:       options.AppName,
		ApplicationVersion:    common.CreateVersion(1, 0, 0),
		EngineName:            "retrofit",
		EngineVersion:         common.CreateVersion(1, 0, 0),
		APIVersion:            common.Vulkan1_0,
		EnabledExtensionNames: instanceExtensionNames,
		Flags:                 flags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating Vulkan instance")
	}
	ctx.instance = instance

	if options.EnableValidation {
		debugLoader := ext_debug_utils.CreateExtensionFromInstance(instance)
		messenger, _, err := debugLoader.CreateDebugUtilsMessenger(instance, ctx.allocationCallbacks, ext_debug_utils.DebugUtilsMessengerCreateInfo{
			MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
			MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
			UserCallback:    ctx.forwardDebugMessage,
		})
		if err != nil {
			instance.Destroy(ctx.allocationCallbacks)
			return nil, errors.Wrap(err, "creating debug messenger")
		}
		ctx.messenger = messenger
	}

	err = ctx.pickPhysicalDevice()
	if err != nil {
		ctx.Destroy()
		return nil, err
	}

	err = ctx.createDevice()
	if err != nil {
		ctx.Destroy()
		return nil, err
	}

	return ctx, nil
}

func (c *Context) forwardDebugMessage(
	msgType ext_debug_utils.DebugUtilsMessageTypeFlags,
	severity ext_debug_utils.DebugUtilsMessageSeverityFlags,
	data *ext_debug_utils.DebugUtilsMessengerCallbackData,
) bool {
	if severity&ext_debug_utils.SeverityError != 0 {
		c.logger.Error("vulkan validation", slog.String("type", msgType.String()), slog.String("message", data.Message))
		if c.sink != nil {
			c.sink.Message(gpu.MessageSeverityError, data.Message)
		}
	} else {
		c.logger.Warn("vulkan validation", slog.String("type", msgType.String()), slog.String("message", data.Message))
		if c.sink != nil {
			c.sink.Message(gpu.MessageSeverityWarning, data.Message)
		}
	}
	return false
}

func (c *Context) pickPhysicalDevice() error {
	gpus, _, err := c.instance.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerating physical devices")
	}
	if len(gpus) == 0 {
		return errors.New("no Vulkan physical devices available")
	}

	for _, candidate := range gpus {
		queueProps := candidate.QueueFamilyProperties()
		for queueIndex, queueFamily := range queueProps {
			if queueFamily.QueueFlags&core1_0.QueueGraphics != 0 {
				c.physicalDevice = candidate
				c.graphicsFamily = queueIndex

				properties, err := candidate.Properties()
				if err != nil {
					return errors.Wrap(err, "reading physical device properties")
				}
				c.memoryProperties = candidate.MemoryProperties()
				c.nonCoherentAtomSize = properties.Limits.NonCoherentAtomSize
				if c.nonCoherentAtomSize < 1 {
					c.nonCoherentAtomSize = 1
				}

				c.logger.Debug("Context::pickPhysicalDevice",
					slog.String("device", properties.DriverName),
					slog.Int("graphicsFamily", queueIndex))
				return nil
			}
		}
	}

	return errors.New("no physical device exposes a graphics queue")
}

func (c *Context) createDevice() error {
	var deviceExtensionNames []string
	deviceExtensions, _, err := c.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return errors.Wrap(err, "enumerating device extensions")
	}
	_, ok := deviceExtensions[khr_portability_subset.ExtensionName]
	if ok {
		deviceExtensionNames = append(deviceExtensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := c.physicalDevice.CreateDevice(c.allocationCallbacks, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: c.graphicsFamily,
				QueuePriorities:  []float32{1.0},
			},
		},
		EnabledExtensionNames: deviceExtensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "creating logical device")
	}
	c.device = device
	return nil
}

// GraphicsFamily returns the queue family index the device was created with.
func (c *Context) GraphicsFamily() int { return c.graphicsFamily }

// WaitIdle drains the device. For shutdown and debug capture only.
func (c *Context) WaitIdle() error {
	_, err := c.device.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "waiting for device idle")
	}
	return nil
}

// Destroy tears down the device, messenger and instance, in that order.
func (c *Context) Destroy() {
	if c.device != nil {
		_, err := c.device.WaitIdle()
		if err != nil {
			c.logger.Error("wait-idle failed during teardown", slog.Any("error", err))
		}
		c.device.Destroy(c.allocationCallbacks)
		c.device = nil
	}
	if c.messenger != nil {
		c.messenger.Destroy(c.allocationCallbacks)
		c.messenger = nil
	}
	if c.instance != nil {
		c.instance.Destroy(c.allocationCallbacks)
		c.instance = nil
	}
}
